package cycle_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCycle(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cycle Driver Suite")
}
