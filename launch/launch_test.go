package launch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePorts(t *testing.T) {
	ports, err := ParsePorts("2000,2001,2002")
	require.NoError(t, err)
	assert.Equal(t, []int{2000, 2001, 2002}, ports)

	ports, err = ParsePorts(" 2000 , 2001 ")
	require.NoError(t, err)
	assert.Equal(t, []int{2000, 2001}, ports)

	_, err = ParsePorts("")
	assert.Error(t, err)
	_, err = ParsePorts("2000,abc")
	assert.Error(t, err)
	_, err = ParsePorts("2000,-1")
	assert.Error(t, err)
	_, err = ParsePorts("70000")
	assert.Error(t, err)
}

func TestPortsFromEnv(t *testing.T) {
	t.Setenv(PortsEnv, "5001,5002")
	ports, err := PortsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []int{5001, 5002}, ports)

	t.Setenv(PortsEnv, "")
	_, err = PortsFromEnv()
	assert.Error(t, err)
}

func TestAddresses(t *testing.T) {
	assert.Equal(t,
		[]string{"localhost:2000", "localhost:2001"},
		Addresses([]int{2000, 2001}))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workers.json")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"workers": {"cpu0": "localhost:2000", "cpu1": "localhost:2001"}}`), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:2000", config.Workers["cpu0"])
	assert.Equal(t, "localhost:2001", config.Workers["cpu1"])

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestStartRejectsEmptyPortList(t *testing.T) {
	_, err := Start("hetr-worker", nil)
	assert.Error(t, err)
}
