// The main package for the s3 executable.
package main

import (
	"github.com/CU-BIC/S3/cmd"
)

func main() {
	cmd.Execute()
}
