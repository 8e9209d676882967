package reporter

// Reporter defines the interface for progress reporting.
type Reporter interface {
	Hardware(summary HardwareSummary)
	SessionConfig(summary SessionConfigSummary)
	EncodingStarted(totalFrames uint64)
	EncodingProgress(progress ProgressSnapshot)
	ValidationComplete(summary ValidationSummary)
	EncodingComplete(summary EncodingOutcome)
	Warning(message string)
	Error(err ReporterError)
	OperationComplete(message string)
	Verbose(message string)
}

// NullReporter is a no-op reporter that discards all updates.
type NullReporter struct{}

func (NullReporter) Hardware(HardwareSummary)             {}
func (NullReporter) SessionConfig(SessionConfigSummary)   {}
func (NullReporter) EncodingStarted(uint64)               {}
func (NullReporter) EncodingProgress(ProgressSnapshot)    {}
func (NullReporter) ValidationComplete(ValidationSummary) {}
func (NullReporter) EncodingComplete(EncodingOutcome)     {}
func (NullReporter) Warning(string)                       {}
func (NullReporter) Error(ReporterError)                  {}
func (NullReporter) OperationComplete(string)             {}
func (NullReporter) Verbose(string)                       {}
