package main

// Set at build time with -ldflags "-X main.Version=... -X main.BuildTime=... -X main.GitCommit=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
