// Forge builds packages of JavaScript, CSS, HTML and assets into linked,
// cached units.
package main

import "github.com/albertocavalcante/forge/cmd/forge/internal/cli"

func main() {
	cli.Execute()
}
