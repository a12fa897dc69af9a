// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/newrev/newrev/cmd/newrev"

func main() {
	cmd.Execute()
}
