package main

import "snowpulse/cmd"

func main() {
	cmd.Execute()
}
