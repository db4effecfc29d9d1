package version

// Version is overridden at build time with -ldflags "-X prompt-tester/internal/version.Version=...".
var Version = "dev"
