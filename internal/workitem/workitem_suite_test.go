package workitem

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestWorkItemSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "WorkItem Suite")
}
