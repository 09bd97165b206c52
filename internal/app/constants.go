package app

const (
	Name           = "meshmonitor"
	SourceURL      = "https://github.com/yeraze/meshmonitor"
	ConfigFilename = "config.json"
	DBFilename     = "meshmonitor.db"
	LogFilename    = "meshmonitor.log"
)
