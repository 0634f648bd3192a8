// Copyright © 2024 Zyncio

package main

import (
	"github.com/zyncio/zync/cmd/zync/cmd"
)

func main() {
	cmd.Execute()
}
