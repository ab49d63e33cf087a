package backend

// codexAdapter drives the codex CLI. The binary has no file-argument
// convention, so attachments are always embedded into the prompt body by
// the executor's option transformation before BuildArgv ever sees them;
// this adapter reports FileModeEmbedInPrompt so that transformation
// triggers.
type codexAdapter struct{}

func NewCodexAdapter() Adapter { return codexAdapter{} }

func (codexAdapter) Tag() string    { return "codex" }
func (codexAdapter) Binary() string { return "codex" }

func (codexAdapter) Capability() Capability {
	return Capability{
		SupportsFiles:      false,
		SupportsStreaming:  true,
		SupportsSandbox:    false,
		SupportsJSONOutput: true,
		FileMode:           FileModeEmbedInPrompt,
		SpecializationTag:  "correctness",
	}
}

func (codexAdapter) BuildArgv(opts Options) (string, []string, error) {
	args := []string{"exec", opts.Prompt}
	if opts.OutputFormat == "json" {
		args = append(args, "--json")
	}
	if opts.AutoApprove {
		args = append(args, "--full-auto")
	}
	return "codex", args, nil
}

func (codexAdapter) ParseOutput(rawStdout string) string {
	return rawStdout
}

func (codexAdapter) SupportsOperation(op Operation) bool {
	return false
}
