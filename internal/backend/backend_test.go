package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetHasTags(t *testing.T) {
	r := NewRegistry()
	r.Register(NewClaudeAdapter())
	r.Register(NewCodexAdapter())

	assert.True(t, r.Has("claude"))
	assert.False(t, r.Has("copilot"))

	a, err := r.Get("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", a.Tag())

	_, err = r.Get("unknown")
	assert.Error(t, err)

	assert.ElementsMatch(t, []string{"claude", "codex"}, r.Tags())
}

func TestGlobal_RegistersAllThreeBuiltins(t *testing.T) {
	r := Global()
	assert.True(t, r.Has("claude"))
	assert.True(t, r.Has("codex"))
	assert.True(t, r.Has("copilot"))
}

func TestClaudeAdapter_BuildArgv(t *testing.T) {
	a := NewClaudeAdapter()
	_, args, err := a.BuildArgv(Options{
		Prompt:        "review this",
		Attachments:   []string{"a.go", "b.go"},
		OutputFormat:  "json",
		Sandbox:       true,
		AutonomyLevel: "HIGH",
	})
	require.NoError(t, err)
	assert.Contains(t, args, "--file")
	assert.Contains(t, args, "a.go")
	assert.Contains(t, args, "b.go")
	assert.Contains(t, args, "--output-format")
	assert.Contains(t, args, "--sandbox")
	assert.Contains(t, args, "acceptEdits")
}

func TestClaudeAdapter_ReadOnlyMapsToPlanMode(t *testing.T) {
	a := NewClaudeAdapter()
	_, args, err := a.BuildArgv(Options{Prompt: "x", AutonomyLevel: "READ_ONLY"})
	require.NoError(t, err)
	assert.Contains(t, args, "plan")
}

func TestCodexAdapter_BuildArgv(t *testing.T) {
	a := NewCodexAdapter()
	_, args, err := a.BuildArgv(Options{Prompt: "do X", AutoApprove: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"exec", "do X", "--full-auto"}, args)
}

func TestCodexAdapter_JSONOutputFormatEmitsFlag(t *testing.T) {
	a := NewCodexAdapter()
	_, args, err := a.BuildArgv(Options{Prompt: "do X", OutputFormat: "json"})
	require.NoError(t, err)
	assert.Contains(t, args, "--json")
}

func TestCopilotAdapter_BuildArgv(t *testing.T) {
	a := NewCopilotAdapter()
	_, args, err := a.BuildArgv(Options{Prompt: "list files"})
	require.NoError(t, err)
	assert.Equal(t, []string{"suggest", "-t", "shell", "list files"}, args)
}

func TestAdapterCapabilities_FileModesDiffer(t *testing.T) {
	assert.Equal(t, FileModeCLIFlag, NewClaudeAdapter().Capability().FileMode)
	assert.Equal(t, FileModeEmbedInPrompt, NewCodexAdapter().Capability().FileMode)
	assert.Equal(t, FileModeNone, NewCopilotAdapter().Capability().FileMode)
}

func TestAdapterCapabilities_ClaudeSupportsSandboxAndJSON(t *testing.T) {
	c := NewClaudeAdapter().Capability()
	assert.True(t, c.SupportsSandbox)
	assert.True(t, c.SupportsJSONOutput)
	assert.True(t, c.SupportsStreaming)
}

func TestAdapterCapabilities_CodexSupportsStreamingAndJSONNotFilesOrSandbox(t *testing.T) {
	c := NewCodexAdapter().Capability()
	assert.True(t, c.SupportsStreaming, "codex streams its exec output")
	assert.True(t, c.SupportsJSONOutput, "codex exposes a JSON output flag")
	assert.False(t, c.SupportsFiles)
	assert.False(t, c.SupportsSandbox)
}

func TestAdapterCapabilities_CopilotSupportsStreamingNotFilesSandboxOrJSON(t *testing.T) {
	c := NewCopilotAdapter().Capability()
	assert.True(t, c.SupportsStreaming, "copilot streams its suggest output")
	assert.False(t, c.SupportsFiles)
	assert.False(t, c.SupportsSandbox)
	assert.False(t, c.SupportsJSONOutput)
}
