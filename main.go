// umbrafile transfers files between two peers over an encrypted, framed TCP
// connection with chunk-level integrity verification and resumption.
package main

import "github.com/umbra-im/umbrafile/cmd"

func main() {
	cmd.Execute()
}
