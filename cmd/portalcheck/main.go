package main

import "dev/bravebird/portal-check-go/cmd/portalcheck/cmd"

func main() {
	cmd.Execute()
}
