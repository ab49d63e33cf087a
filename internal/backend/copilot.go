package backend

// copilotAdapter drives the copilot CLI. It declares FileModeNone, meaning
// attachment attempts are downgraded to embed-in-prompt with a warning at
// the executor layer rather than ever reaching BuildArgv with a non-empty
// attachments list.
type copilotAdapter struct{}

func NewCopilotAdapter() Adapter { return copilotAdapter{} }

func (copilotAdapter) Tag() string    { return "copilot" }
func (copilotAdapter) Binary() string { return "copilot" }

func (copilotAdapter) Capability() Capability {
	return Capability{
		SupportsFiles:      false,
		SupportsStreaming:  true,
		SupportsSandbox:    false,
		SupportsJSONOutput: false,
		FileMode:           FileModeNone,
		SpecializationTag:  "breadth",
	}
}

func (copilotAdapter) BuildArgv(opts Options) (string, []string, error) {
	return "copilot", []string{"suggest", "-t", "shell", opts.Prompt}, nil
}

func (copilotAdapter) ParseOutput(rawStdout string) string {
	return rawStdout
}

func (copilotAdapter) SupportsOperation(op Operation) bool {
	return false
}
