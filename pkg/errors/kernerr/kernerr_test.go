// Copyright 2026 The Tessera Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package kernerr

import (
	"fmt"
	"testing"

	"tessera.dev/tessera/pkg/abi/tessera"
	"tessera.dev/tessera/pkg/errors"
)

func TestRoundTripCodes(t *testing.T) {
	for code := tessera.KError(1); code < tessera.MaxKError; code++ {
		err := FromCode(code)
		if err == nil {
			t.Fatalf("FromCode(%v) = nil", code)
		}
		if got := ToCode(err); got != code {
			t.Errorf("ToCode(FromCode(%v)) = %v", code, got)
		}
	}
	if FromCode(0) != nil {
		t.Errorf("FromCode(0) != nil")
	}
}

type wrapped struct{ inner *errors.Error }

func (w wrapped) Error() string { return fmt.Sprintf("wrapped: %v", w.inner) }

func TestUnwrapper(t *testing.T) {
	AddErrorUnwrapper(func(e error) (*errors.Error, bool) {
		w, ok := e.(wrapped)
		if !ok {
			return nil, false
		}
		return w.inner, true
	})
	if got := ToCode(wrapped{NoMemory}); got != tessera.KErrNoMemory {
		t.Errorf("ToCode(wrapped{NoMemory}) = %v, want %v", got, tessera.KErrNoMemory)
	}
	if got := ToCode(fmt.Errorf("opaque")); got != tessera.KErrInvalidArgument {
		t.Errorf("ToCode(opaque) = %v, want %v", got, tessera.KErrInvalidArgument)
	}
}

func TestEquals(t *testing.T) {
	if !Equals(NoMemory, NoMemory) {
		t.Errorf("Equals(NoMemory, NoMemory) = false")
	}
	if Equals(NoMemory, NotAvailable) {
		t.Errorf("Equals(NoMemory, NotAvailable) = true")
	}
	if !Equals(nil, nil) {
		t.Errorf("Equals(nil, nil) = false")
	}
}
