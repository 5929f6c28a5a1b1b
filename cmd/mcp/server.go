package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tazhate/remindbot/internal/humanize"
	"github.com/tazhate/remindbot/internal/rule"
)

// JSON-RPC structures
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCP structures
type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ruleArgs are the arguments shared by the rule tools.
type ruleArgs struct {
	Rule     json.RawMessage `json:"rule"`
	TimeZone string          `json:"timeZone"`
	Now      string          `json:"now"`
	Count    int             `json:"count"`
	Locale   string          `json:"locale"`
}

const maxOccurrences = 50

// MCPServer answers MCP tool calls over newline-delimited JSON-RPC.
type MCPServer struct {
	now func() time.Time
	log *zap.Logger

	// Optional remindbot HTTP API for the upcoming_reminders tool
	apiURL      string
	apiUsername string
	apiPassword string
	httpClient  *http.Client
}

func NewMCPServer(now func() time.Time, log *zap.Logger) *MCPServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &MCPServer{
		now:         now,
		log:         log,
		apiURL:      strings.TrimRight(os.Getenv("REMINDBOT_API_URL"), "/"),
		apiUsername: os.Getenv("REMINDBOT_API_USERNAME"),
		apiPassword: os.Getenv("REMINDBOT_API_PASSWORD"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Run serves requests from r until EOF, writing one response line per request.
func (s *MCPServer) Run(r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	enc := json.NewEncoder(w)

	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read request: %w", err)
		}
		eof := errors.Is(err, io.EOF)

		line = strings.TrimSpace(line)
		if line != "" {
			var req JSONRPCRequest
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				s.log.Warn("bad request", zap.Error(err))
				if err := enc.Encode(JSONRPCResponse{JSONRPC: "2.0", Error: &RPCError{Code: -32700, Message: "Parse error"}}); err != nil {
					return fmt.Errorf("write response: %w", err)
				}
			} else if resp, ok := s.handleRequest(req); ok {
				if err := enc.Encode(resp); err != nil {
					return fmt.Errorf("write response: %w", err)
				}
			}
		}

		if eof {
			return nil
		}
	}
}

// handleRequest returns false for notifications, which get no response.
func (s *MCPServer) handleRequest(req JSONRPCRequest) (JSONRPCResponse, bool) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req), true
	case "initialized", "notifications/initialized":
		return JSONRPCResponse{}, false
	case "tools/list":
		return s.handleToolsList(req), true
	case "tools/call":
		return s.handleToolsCall(req), true
	default:
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32601, Message: "Method not found"},
		}, true
	}
}

func (s *MCPServer) handleInitialize(req JSONRPCRequest) JSONRPCResponse {
	result := InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	}
	result.ServerInfo.Name = "remindbot-mcp"
	result.ServerInfo.Version = "1.0.0"

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

var ruleProps = map[string]Property{
	"rule":     {Type: "object", Description: `Schedule rule in wire form, e.g. {"type":"INTERVAL","interval":{"every":8,"unit":"HOURS"}}`},
	"timeZone": {Type: "string", Description: "IANA time zone the rule is read in (default UTC)"},
	"now":      {Type: "string", Description: "Reference instant, RFC 3339 (default: current time)"},
}

func (s *MCPServer) handleToolsList(req JSONRPCRequest) JSONRPCResponse {
	tools := []Tool{
		{
			Name:        "validate_rule",
			Description: "Check a schedule rule and list every problem with its field path.",
			InputSchema: InputSchema{Type: "object", Properties: ruleProps, Required: []string{"rule"}},
		},
		{
			Name:        "next_fire",
			Description: "Compute the next fire instants of a schedule rule.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: withProps(ruleProps, map[string]Property{
					"count": {Type: "integer", Description: "How many instants to return (default 1, max 50)"},
				}),
				Required: []string{"rule"},
			},
		},
		{
			Name:        "describe_rule",
			Description: "Describe a schedule rule in plain language.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: withProps(ruleProps, map[string]Property{
					"locale": {Type: "string", Description: "Language of the description", Enum: humanize.Available()},
				}),
				Required: []string{"rule"},
			},
		},
	}
	if s.apiURL != "" {
		tools = append(tools, Tool{
			Name:        "upcoming_reminders",
			Description: "List the next fires of a Telegram user's active reminders from remindbot.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"telegram_id": {Type: "string", Description: "Telegram user id"},
				},
				Required: []string{"telegram_id"},
			},
		})
	}

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: tools}}
}

func withProps(base, extra map[string]Property) map[string]Property {
	out := make(map[string]Property, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (s *MCPServer) handleToolsCall(req JSONRPCRequest) JSONRPCResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32602, Message: "Invalid params"},
		}
	}

	var result string
	var isError bool

	switch params.Name {
	case "validate_rule":
		result, isError = s.validateRule(params.Arguments)
	case "next_fire":
		result, isError = s.nextFire(params.Arguments)
	case "describe_rule":
		result, isError = s.describeRule(params.Arguments)
	case "upcoming_reminders":
		var args struct {
			TelegramID string `json:"telegram_id"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.TelegramID == "" {
			result, isError = "telegram_id is required", true
			break
		}
		result, isError = s.apiGet("/api/users/" + args.TelegramID + "/upcoming")
	default:
		result = "Unknown tool: " + params.Name
		isError = true
	}

	s.log.Debug("tool call", zap.String("tool", params.Name), zap.Bool("error", isError))
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: result}},
			IsError: isError,
		},
	}
}

// parseArgs decodes the rule tool arguments and the wire rule.
func (s *MCPServer) parseArgs(raw json.RawMessage) (ruleArgs, rule.WireRule, *time.Location, time.Time, error) {
	var args ruleArgs
	var w rule.WireRule
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, w, nil, time.Time{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if len(args.Rule) == 0 {
		return args, w, nil, time.Time{}, errors.New("rule is required")
	}
	if err := json.Unmarshal(args.Rule, &w); err != nil {
		return args, w, nil, time.Time{}, fmt.Errorf("invalid rule: %w", err)
	}

	loc := time.UTC
	if args.TimeZone != "" {
		l, err := rule.LoadLocation(args.TimeZone)
		if err != nil {
			return args, w, nil, time.Time{}, fmt.Errorf("unknown time zone %q", args.TimeZone)
		}
		loc = l
	}

	now := s.now()
	if args.Now != "" {
		t, err := time.Parse(time.RFC3339, args.Now)
		if err != nil {
			return args, w, nil, time.Time{}, fmt.Errorf("invalid now: %w", err)
		}
		now = t
	}
	return args, w, loc, now, nil
}

type validationResult struct {
	Valid  bool                `json:"valid"`
	Errors map[string][]string `json:"errors,omitempty"`
}

func (s *MCPServer) validateRule(raw json.RawMessage) (string, bool) {
	_, w, loc, now, err := s.parseArgs(raw)
	if err != nil {
		return err.Error(), true
	}
	_, errs := rule.ValidateWire(w, loc, now)
	return toJSON(validationResult{Valid: len(errs) == 0, Errors: errs.ByPath()})
}

func (s *MCPServer) nextFire(raw json.RawMessage) (string, bool) {
	args, w, loc, now, err := s.parseArgs(raw)
	if err != nil {
		return err.Error(), true
	}
	r, errs := rule.ValidateWire(w, loc, now)
	if len(errs) > 0 {
		return toJSON(validationResult{Errors: errs.ByPath()})
	}

	count := args.Count
	if count < 1 {
		count = 1
	}
	count = min(count, maxOccurrences)

	fires := rule.Occurrences(r, loc, now, count)
	out := make([]string, len(fires))
	for i, t := range fires {
		out[i] = t.In(loc).Format(time.RFC3339)
	}
	return toJSON(map[string]interface{}{"fires": out})
}

func (s *MCPServer) describeRule(raw json.RawMessage) (string, bool) {
	args, w, _, _, err := s.parseArgs(raw)
	if err != nil {
		return err.Error(), true
	}
	r, errs := rule.ParseWire(w)
	if len(errs) > 0 {
		return toJSON(validationResult{Errors: errs.ByPath()})
	}
	locale := args.Locale
	if locale == "" {
		locale = humanize.DefaultLocale
	}
	return humanize.Describe(r, humanize.LoadOrDefault(locale)), false
}

func toJSON(v interface{}) (string, bool) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error encoding result: %v", err), true
	}
	return string(data), false
}

func (s *MCPServer) apiGet(path string) (string, bool) {
	req, err := http.NewRequest(http.MethodGet, s.apiURL+path, nil)
	if err != nil {
		return fmt.Sprintf("Error creating request: %v", err), true
	}
	req.SetBasicAuth(s.apiUsername, s.apiPassword)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Error making request: %v", err), true
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Error reading response: %v", err), true
	}

	var apiResp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return string(respBody), resp.StatusCode >= 400
	}
	if !apiResp.Success {
		return fmt.Sprintf("API Error: %s", apiResp.Error), true
	}

	// Pretty print the data
	var prettyData bytes.Buffer
	if err := json.Indent(&prettyData, apiResp.Data, "", "  "); err != nil {
		return string(apiResp.Data), false
	}
	return prettyData.String(), false
}
