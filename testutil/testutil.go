// Package testutil holds helpers shared by the package test suites.
package testutil

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"

	fuzz "github.com/google/gofuzz"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func Byf(format string, args ...interface{}) {
	By(fmt.Sprintf(format, args...))
	fmt.Fprintln(GinkgoWriter)
}

const maxPrintableLen = 1024

// ExpectBytesEqual has much less failure-print overhead for large byte
// chunks than gomega's Equal.
func ExpectBytesEqual(a, b []byte) {
	if bytes.Equal(a, b) {
		return
	}
	if len(a)+len(b) <= 2*maxPrintableLen {
		ExpectWithOffset(1, a).To(Equal(b))
		return
	}
	ExpectWithOffset(1, len(a)).To(Equal(len(b)), "Lengths are unequal and data is too large to print.")
	for i := range a {
		if a[i] != b[i] {
			end := i + maxPrintableLen
			if end > len(a) {
				end = len(a)
			}
			ExpectWithOffset(1, a[i:end]).To(Equal(b[i:end]), "Skipped %v equal bytes.", i)
			return
		}
	}
}

// TmpFileName returns a fresh temp file path that does not exist yet.
func TmpFileName() string {
	f, err := os.CreateTemp("", "go_test_tmp_")
	Expect(err).To(BeNil())
	filename := f.Name()
	Expect(f.Close()).To(BeNil())
	Expect(os.Remove(filename)).To(BeNil())
	return filename
}

var RandSource = rand.NewSource(GinkgoRandomSeed())
var Rand = rand.New(RandSource)
var Fuzzer = func() *fuzz.Fuzzer {
	f := fuzz.New()
	f.RandSource(RandSource)
	return f
}()
var Fuzz = Fuzzer.Fuzz

// RandBytes returns size random bytes.
func RandBytes(size int) []byte {
	p := make([]byte, size)
	Rand.Read(p)
	return p
}
