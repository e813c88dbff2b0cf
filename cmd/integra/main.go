// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import "github.com/integra/integra"

func main() {
	integra.Main()
}
