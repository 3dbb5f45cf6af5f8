// eventstream CLI - publish to and listen on configured event streams
package main

import "github.com/drblury/eventstream/internal/cli"

func main() {
	cli.Execute()
}
