// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package call

import (
	"fmt"

	"github.com/fibre-rpc/fibre/internal/fibreerr"
)

func errArgumentCount(want, got int) error {
	return fmt.Errorf("call: expected %d arguments but got %d: %w", want, got, fibreerr.ErrArgumentInvalid)
}
