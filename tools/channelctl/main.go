// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

// Usage:
//   channelctl status ./channel-service.db
//   channelctl route ./channel-service.db <token network> <from> <to> <amount>
//

package main

import (
	"os"

	"github.com/iotexproject/iotex-channel-service/tools/channelctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
