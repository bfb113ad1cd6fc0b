package main

import "github.com/AryanV-Coder/SleepDebtPredictor/cmd"

func main() {
	cmd.Execute()
}
