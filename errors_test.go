package pipeline_test

import (
	"context"
	"errors"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	pipeline "github.com/JohnPlummer/jp-go-pipeline"
)

var _ = Describe("HTTPStatusClassifier", func() {
	var classifier *pipeline.HTTPStatusClassifier

	BeforeEach(func() {
		classifier = pipeline.NewHTTPStatusClassifier()
	})

	Context("IsRetryable", func() {
		It("returns false for nil errors", func() {
			Expect(classifier.IsRetryable(nil)).To(BeFalse())
		})

		It("retries server errors carrying a retryable status code", func() {
			err := pipeline.NewStatusCodeError(503, errors.New("service unavailable"))
			Expect(classifier.IsRetryable(err)).To(BeTrue())
		})

		It("does not retry client errors", func() {
			err := pipeline.NewStatusCodeError(400, errors.New("bad request"))
			Expect(classifier.IsRetryable(err)).To(BeFalse())
		})

		It("never retries context cancellation", func() {
			Expect(classifier.IsRetryable(context.Canceled)).To(BeFalse())
			Expect(classifier.IsRetryable(context.DeadlineExceeded)).To(BeFalse())
		})

		It("retries rate limit errors", func() {
			Expect(classifier.IsRetryable(jperrors.ErrRateLimited)).To(BeTrue())
		})

		It("retries timeout errors", func() {
			err := jperrors.NewTimeoutError("request timed out", "do", time.Second)
			Expect(classifier.IsRetryable(err)).To(BeTrue())
		})

		It("treats status-less errors as transient network failures", func() {
			Expect(classifier.IsRetryable(errors.New("connection reset by peer"))).To(BeTrue())
		})

		It("honors a custom retryable status set", func() {
			classifier.RetryableStatuses = []int{418}
			Expect(classifier.IsRetryable(pipeline.NewStatusCodeError(418, errors.New("teapot")))).To(BeTrue())
			Expect(classifier.IsRetryable(pipeline.NewStatusCodeError(503, errors.New("unavailable")))).To(BeFalse())
		})
	})

	Context("ShouldTripCircuit", func() {
		It("returns false for nil errors", func() {
			Expect(classifier.ShouldTripCircuit(nil)).To(BeFalse())
		})

		It("trips on authentication failures", func() {
			err := pipeline.NewStatusCodeError(401, errors.New("unauthorized"))
			Expect(classifier.ShouldTripCircuit(err)).To(BeTrue())
		})

		It("does not trip on rate limits or timeouts", func() {
			Expect(classifier.ShouldTripCircuit(jperrors.ErrRateLimited)).To(BeFalse())

			err := jperrors.NewTimeoutError("request timed out", "do", time.Second)
			Expect(classifier.ShouldTripCircuit(err)).To(BeFalse())
		})

		It("does not trip on context errors", func() {
			Expect(classifier.ShouldTripCircuit(context.Canceled)).To(BeFalse())
		})

		It("trips on status-less errors", func() {
			Expect(classifier.ShouldTripCircuit(errors.New("connection refused"))).To(BeTrue())
		})
	})
})

var _ = Describe("TimeoutError", func() {
	It("names the budget and the elapsed time", func() {
		err := &pipeline.TimeoutError{
			Budget:  time.Second,
			Elapsed: 1500 * time.Millisecond,
			Err:     context.DeadlineExceeded,
		}
		Expect(err.Error()).To(ContainSubstring("1s"))
		Expect(err.Error()).To(ContainSubstring("1.5s"))
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
	})
})

var _ = Describe("StatusCodeError", func() {
	It("carries the wrapped error and the status code", func() {
		inner := errors.New("upstream said no")
		err := pipeline.NewStatusCodeError(502, inner)

		Expect(err.Error()).To(Equal("upstream said no"))
		Expect(errors.Is(err, inner)).To(BeTrue())

		var httpErr pipeline.HTTPError
		Expect(errors.As(err, &httpErr)).To(BeTrue())
		Expect(httpErr.StatusCode()).To(Equal(502))
	})
})
