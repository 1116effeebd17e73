// Package logger provides the executor that writes templated messages to the execution log
// and to the durable per-workflow log.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dukex/flowgraph/pkg/nodes"
	"github.com/dukex/flowgraph/pkg/protocol"
	"github.com/dukex/flowgraph/pkg/template"
)

const defaultMessage = "Workflow execution log"

// WorkflowLog appends entries to the durable log of a workflow.
type WorkflowLog interface {
	AppendWorkflowLog(ctx context.Context, workflowID string, entry map[string]any) error
}

// Executor records log entries.
type Executor struct {
	workflowLog WorkflowLog
}

// New returns a logger executor. A nil workflowLog disables the durable per-workflow log.
func New(workflowLog WorkflowLog) *Executor {
	return &Executor{workflowLog: workflowLog}
}

// Execute builds a log entry, emits it as a node_log event and appends it to the workflow log.
func (e *Executor) Execute(ctx context.Context, config map[string]any, inputs any, nodeCtx *protocol.NodeContext) (any, error) {
	if nodeCtx == nil {
		nodeCtx = &protocol.NodeContext{}
	}

	level := nodes.String(config, "level", "info")
	now := time.Now()

	nodeName := nodeCtx.NodeName
	if nodeName == "" {
		nodeName = "Logger"
	}

	entry := map[string]any{
		"level":       level,
		"timestamp":   nodes.Timestamp(now),
		"executionId": nodeCtx.ExecutionID,
		"nodeId":      nodeCtx.NodeID,
		"nodeName":    nodeName,
		"message":     defaultMessage,
	}

	if message := nodes.String(config, "message", ""); message != "" {
		entry["message"] = template.Interpolate(message, template.ExtendedScope(inputs, nodeCtx.Variables))
	}

	if nodes.Bool(config, "includeInputs", false) {
		entry["inputs"] = inputs
	}

	if nodes.Bool(config, "includeNodeInfo", false) {
		entry["node"] = map[string]any{
			"id":   nodeCtx.NodeID,
			"name": nodeCtx.NodeName,
			"type": "logger",
		}
	}

	if err := nodeCtx.Log(ctx, level, format(now, entry), entry); err != nil {
		return failure(err, config), nil
	}

	if e.workflowLog != nil && nodeCtx.WorkflowID != "" {
		if err := e.workflowLog.AppendWorkflowLog(ctx, nodeCtx.WorkflowID, entry); err != nil {
			_ = nodeCtx.Log(ctx, "error", "Logger node failed: "+err.Error(), nil)

			return failure(err, config), nil
		}
	}

	return map[string]any{
		"success":   true,
		"logged":    true,
		"entry":     entry,
		"message":   entry["message"],
		"level":     level,
		"timestamp": entry["timestamp"],
	}, nil
}

func failure(err error, config map[string]any) map[string]any {
	return map[string]any{
		"error":           true,
		"message":         "Logger execution failed",
		"details":         err.Error(),
		"originalMessage": nodes.String(config, "message", ""),
	}
}

// format renders the console line for an entry: time, level, node name, message and an
// optional inputs summary.
func format(now time.Time, entry map[string]any) string {
	parts := []string{
		"[" + now.Format(time.TimeOnly) + "]",
		"[" + strings.ToUpper(fmt.Sprint(entry["level"])) + "]",
		"[" + fmt.Sprint(entry["nodeName"]) + "]",
		fmt.Sprint(entry["message"]),
	}

	if inputs, ok := entry["inputs"]; ok && inputs != nil {
		if summary := summarize(inputs, 100); summary != "" {
			parts = append(parts, "| Data: "+summary)
		}
	}

	return strings.Join(parts, " ")
}

func summarize(value any, maxLength int) string {
	obj, isObject := value.(map[string]any)

	if _, isArray := value.([]any); !isObject && !isArray {
		s := fmt.Sprint(value)
		if len(s) > maxLength {
			s = s[:maxLength]
		}

		return s
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "[Complex Object]"
	}

	if len(data) <= maxLength {
		return string(data)
	}

	if len(obj) > 0 {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		shown := keys
		suffix := ""

		if len(keys) > 3 {
			shown = keys[:3]
			suffix = ", ..."
		}

		return fmt.Sprintf("{%s%s} (%d keys)", strings.Join(shown, ", "), suffix, len(keys))
	}

	return string(data[:maxLength-3]) + "..."
}
