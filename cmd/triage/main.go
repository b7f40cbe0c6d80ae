package main

import "email-triage/cmd/triage/cmd"

func main() {
	cmd.Execute()
}
