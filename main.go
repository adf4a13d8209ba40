// The main package for the cites executable.
package main

import "github.com/JakeFAU/scholar-citations/cmd"

func main() {
	cmd.Execute()
}
