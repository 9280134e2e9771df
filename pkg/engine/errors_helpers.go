package engine

import (
	"fmt"

	"github.com/xflatdb/xflat/pkg/xflaterr"
)

func wrapf(op string, format string, args ...any) error {
	return xflaterr.Wrap(op, fmt.Errorf(format, args...))
}
