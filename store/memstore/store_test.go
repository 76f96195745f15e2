package memstore

import (
	"testing"

	accountguard "github.com/securyflex/accountguard"
	"github.com/securyflex/accountguard/store/storetest"
)

func TestBackendConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) accountguard.Backend { return New() })
}
