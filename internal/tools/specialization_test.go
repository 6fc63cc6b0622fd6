package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func genericSearchTool() Tool {
	return &echoTool{BaseTool: BaseTool{
		ToolName:        "web_search",
		ToolDescription: "Search the web for anything",
		ToolParameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
		},
	}}
}

func salesReportTool() Tool {
	return &echoTool{BaseTool: BaseTool{
		ToolName:        "sales_report",
		ToolDescription: "Search sales records",
		ToolParameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_date": map[string]any{"type": "string"},
				"end_date":   map[string]any{"type": "string"},
				"region":     map[string]any{"type": "string"},
			},
			"required": []string{"start_date", "end_date"},
		},
		ToolOutputFields: []string{"total", "currency", "rows"},
	}}
}

func TestSpecializationScoreOrdersSpecializedFirst(t *testing.T) {
	generic := genericSearchTool()
	specialized := salesReportTool()

	assert.Greater(t, SpecializationScore(specialized), SpecializationScore(generic))
	assert.Zero(t, SpecializationScore(generic))
}

func TestIsGeneric(t *testing.T) {
	assert.True(t, IsGeneric(genericSearchTool()))
	assert.False(t, IsGeneric(salesReportTool()))

	// A bare tool with no parameters at all is still generic.
	bare := newEchoTool("noop")
	assert.True(t, IsGeneric(bare))
}

func TestDateRangeParams(t *testing.T) {
	start, end, ok := DateRangeParams(salesReportTool())
	assert.True(t, ok)
	assert.Equal(t, "start_date", start)
	assert.Equal(t, "end_date", end)

	_, _, ok = DateRangeParams(genericSearchTool())
	assert.False(t, ok)

	sinceUntil := &echoTool{BaseTool: BaseTool{
		ToolName: "audit_log",
		ToolParameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"since": map[string]any{"type": "string"},
				"until": map[string]any{"type": "string"},
			},
		},
	}}
	start, end, ok = DateRangeParams(sinceUntil)
	assert.True(t, ok)
	assert.Equal(t, "since", start)
	assert.Equal(t, "until", end)
}
