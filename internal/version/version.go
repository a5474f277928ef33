package version

// Version is the current version of mxxc.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/iamgatling/mxxc/internal/version.Version=v1.0.0'"
var Version = "dev"
