package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/ssrc-relay/pkg/config"
)

type testStruct struct {
	configFileName string
	configBody     string

	expectedError      error
	expectedConfigBody string
}

func TestGetConfigString(t *testing.T) {
	tests := []testStruct{
		{"", "", nil, ""},
		{"", "configBody", nil, "configBody"},
		{"file", "configBody", nil, "configBody"},
		{"file", "", nil, "fileContent"},
	}
	for _, test := range tests {
		func() {
			writeConfigFile(test, t)
			defer os.Remove(test.configFileName)

			configBody, err := getConfigString(test.configFileName, test.configBody)
			require.Equal(t, test.expectedError, err)
			require.Equal(t, test.expectedConfigBody, configBody)
		}()
	}
}

func TestShouldReturnErrorIfConfigFileDoesNotExist(t *testing.T) {
	configBody, err := getConfigString("notExistingFile", "")
	require.Error(t, err)
	require.Empty(t, configBody)
}

func writeConfigFile(test testStruct, t *testing.T) {
	if test.configFileName != "" {
		d1 := []byte(test.expectedConfigBody)
		err := os.WriteFile(test.configFileName, d1, 0o644)
		require.NoError(t, err)
	}
}

func TestPortRows(t *testing.T) {
	conf := &config.Config{RTPPort: 30000, RTCPPort: 30001}
	rows := portRows(conf, []string{"10.0.0.1", "10.0.0.2"})
	require.Len(t, rows, 4)
	require.Equal(t, []string{"10.0.0.1", "UDP", "30000", "RTP"}, rows[0])
	require.Equal(t, []string{"10.0.0.2", "UDP", "30001", "RTCP"}, rows[3])

	conf.PrometheusPort = 6789
	rows = portRows(conf, []string{"10.0.0.1"})
	require.Len(t, rows, 3)
	require.Equal(t, "6789", rows[2][2])
}

func TestWritePortsTable(t *testing.T) {
	conf := &config.Config{RTPPort: 30000, RTCPPort: 30001}
	var buf bytes.Buffer
	writePortsTable(&buf, conf, []string{"127.0.0.1"})

	out := buf.String()
	require.Contains(t, out, "127.0.0.1")
	require.Contains(t, out, "30001")
	require.Contains(t, out, "RTCP")
}
