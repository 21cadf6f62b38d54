package version

// Set at build time via -ldflags.
var (
	AppName    = "jamroom"
	AppVersion = "dev"
)
