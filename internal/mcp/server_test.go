package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/engine"
	"github.com/brandon/mailsync/internal/tools"
)

type statusService struct {
	tools.Service
}

func (statusService) SyncStatus(context.Context) (*engine.Status, error) {
	return &engine.Status{QueueSize: 2}, nil
}

func serve(t *testing.T, input ...string) []map[string]interface{} {
	t.Helper()
	logger, _ := test.NewNullLogger()
	srv := NewServer(tools.NewRegistry(statusService{}, logger), "test", logger)

	var out strings.Builder
	require.NoError(t, srv.Serve(context.Background(), strings.NewReader(strings.Join(input, "\n")+"\n"), &out))

	var responses []map[string]interface{}
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		responses = append(responses, m)
	}
	return responses
}

func TestInitializeAndList(t *testing.T) {
	resp := serve(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	require.Len(t, resp, 2)

	initResult := resp[0]["result"].(map[string]interface{})
	require.Equal(t, protocolVersion, initResult["protocolVersion"])
	require.Equal(t, "mailsync", initResult["serverInfo"].(map[string]interface{})["name"])

	require.EqualValues(t, 2, resp[1]["id"])
	list := resp[1]["result"].(map[string]interface{})["tools"].([]interface{})
	require.Len(t, list, 8)
}

func TestToolsCall(t *testing.T) {
	resp := serve(t,
		`{"jsonrpc":"2.0","id":"a","method":"tools/call","params":{"name":"sync_status"}}`,
		`{"jsonrpc":"2.0","id":"b","method":"tools/call","params":{"name":"send_email"}}`,
		`{"jsonrpc":"2.0","id":"c","method":"tools/call","params":{"name":"popular_searches","arguments":{}}}`,
	)
	require.Len(t, resp, 3)

	content := resp[0]["result"].(map[string]interface{})["content"].([]interface{})
	text := content[0].(map[string]interface{})["text"].(string)
	require.JSONEq(t, `{"accounts":null,"queue_size":2}`, text)

	require.EqualValues(t, codeMethodNotFound, resp[1]["error"].(map[string]interface{})["code"])

	failed := resp[2]["result"].(map[string]interface{})
	require.Equal(t, true, failed["isError"])
}

func TestMalformedAndUnknown(t *testing.T) {
	resp := serve(t,
		`{not json`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/list"}`,
	)
	require.Len(t, resp, 2)
	require.EqualValues(t, codeParseError, resp[0]["error"].(map[string]interface{})["code"])
	require.EqualValues(t, codeMethodNotFound, resp[1]["error"].(map[string]interface{})["code"])
}
