// Package mcp serves the engine's tools over the Model Context Protocol
// using newline-delimited JSON-RPC on stdio
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/tools"
)

const protocolVersion = "2024-11-05"

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server represents the MCP server
type Server struct {
	logger  *logrus.Logger
	tools   *tools.Registry
	version string
}

// NewServer creates a new MCP server instance
func NewServer(registry *tools.Registry, version string, logger *logrus.Logger) *Server {
	return &Server{
		logger:  logger,
		tools:   registry,
		version: version,
	}
}

// Run serves on stdin/stdout until ctx is done or stdin closes
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server with stdio transport")
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve answers one request per input line
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	encoder := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read request: %w", err)
			}
			return nil
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			resp := s.handleLine(ctx, line)
			if resp == nil {
				continue
			}
			if err := encoder.Encode(resp); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) *response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.WithError(err).Error("Failed to decode request")
		return errorResponse(json.RawMessage("null"), codeParseError, "parse error")
	}
	// notifications carry no id and get no answer
	if len(req.ID) == 0 {
		s.logger.WithField("method", req.Method).Debug("Notification received")
		return nil
	}
	return s.handleRequest(ctx, &req)
}

// handleRequest processes an MCP request
func (s *Server) handleRequest(ctx context.Context, req *request) *response {
	switch req.Method {
	case "initialize":
		return result(req.ID, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "mailsync",
				"version": s.version,
			},
		})

	case "ping":
		return result(req.ID, map[string]interface{}{})

	case "tools/list":
		return result(req.ID, map[string]interface{}{
			"tools": s.tools.GetToolDefinitions(),
		})

	case "tools/call":
		var params struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, codeInternalError, "invalid params: "+err.Error())
		}

		tool, exists := s.tools.GetTool(params.Name)
		if !exists {
			return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("Tool not found: %s", params.Name))
		}
		if params.Arguments == nil {
			params.Arguments = map[string]interface{}{}
		}

		logger := s.logger.WithField("tool", params.Name)
		out, err := tool.Execute(ctx, params.Arguments)
		if err != nil {
			logger.WithError(err).Warn("Tool failed")
			return result(req.ID, map[string]interface{}{
				"content": []map[string]interface{}{{"type": "text", "text": err.Error()}},
				"isError": true,
			})
		}

		text, err := json.Marshal(out)
		if err != nil {
			return errorResponse(req.ID, codeInternalError, "failed to encode result: "+err.Error())
		}
		logger.Debug("Tool executed")
		return result(req.ID, map[string]interface{}{
			"content": []map[string]interface{}{{"type": "text", "text": string(text)}},
		})
	}

	return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
}

func result(id json.RawMessage, v interface{}) *response {
	return &response{JSONRPC: "2.0", ID: id, Result: v}
}

func errorResponse(id json.RawMessage, code int, msg string) *response {
	return &response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}
