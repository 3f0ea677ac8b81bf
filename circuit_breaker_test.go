package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	pipeline "github.com/JohnPlummer/jp-go-pipeline"
)

var _ = Describe("CircuitBreakerPolicy", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		transport *mockTransport
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		transport = &mockTransport{}
	})

	AfterEach(func() {
		cancel()
	})

	send := func(p pipeline.Pipeline) (*http.Response, error) {
		req, err := pipeline.NewRequest(ctx, http.MethodGet, "http://localhost/op")
		Expect(err).NotTo(HaveOccurred())
		return p.Do(req)
	}

	It("stays closed while requests succeed", func() {
		transport.doFunc = func(req *http.Request) (*http.Response, error) {
			return bodyResponse(200, nil), nil
		}

		policy := pipeline.NewCircuitBreakerPolicy()
		p := pipeline.NewPipeline(transport, policy)

		for i := 0; i < 5; i++ {
			resp, err := send(p)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))
		}

		Expect(policy.State()).To(Equal(pipeline.StateClosed))
		Expect(policy.Counts().TotalSuccesses).To(Equal(uint32(5)))

		health := policy.GetHealth()
		Expect(health.Healthy).To(BeTrue())
		Expect(health.Status).To(Equal("closed"))
	})

	It("opens after repeated failure statuses while still delivering them", func() {
		transport.doFunc = func(req *http.Request) (*http.Response, error) {
			return bodyResponse(500, nil), nil
		}

		policy := pipeline.NewCircuitBreakerPolicy()
		p := pipeline.NewPipeline(transport, policy)

		// The default trip rule opens after 3 requests at a 60% failure rate.
		for i := 0; i < 3; i++ {
			resp, err := send(p)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(500))
		}

		Expect(policy.State()).To(Equal(pipeline.StateOpen))

		resp, err := send(p)
		Expect(resp).To(BeNil())
		Expect(err).To(HaveOccurred())
		Expect(transport.calls()).To(Equal(3))

		health := policy.GetHealth()
		Expect(health.Healthy).To(BeFalse())
		Expect(health.Status).To(Equal("open"))
		Expect(health.TotalFailures).To(Equal(uint32(3)))
	})

	It("opens after repeated transport errors", func() {
		transport.doFunc = func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}

		policy := pipeline.NewCircuitBreakerPolicy()
		p := pipeline.NewPipeline(transport, policy)

		for i := 0; i < 3; i++ {
			_, err := send(p)
			Expect(err).To(HaveOccurred())
		}

		Expect(policy.State()).To(Equal(pipeline.StateOpen))

		_, err := send(p)
		Expect(err).To(HaveOccurred())
		Expect(transport.calls()).To(Equal(3))
	})

	It("does not count errors the classifier excludes", func() {
		transport.doFunc = func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("flaky but benign")
		}

		policy := pipeline.NewCircuitBreakerPolicy(
			pipeline.WithCircuitBreakerErrorClassifier(&benignClassifier{}),
		)
		p := pipeline.NewPipeline(transport, policy)

		for i := 0; i < 5; i++ {
			_, err := send(p)
			Expect(err).To(HaveOccurred())
		}

		Expect(policy.State()).To(Equal(pipeline.StateClosed))
		Expect(transport.calls()).To(Equal(5))
	})

	It("reports state changes through the configured handler", func() {
		transport.doFunc = func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}

		var transitions []string
		policy := pipeline.NewCircuitBreakerPolicy(
			pipeline.WithStateChangeHandler(func(name string, from, to pipeline.CircuitBreakerState) {
				transitions = append(transitions, from.String()+"->"+to.String())
			}),
		)
		p := pipeline.NewPipeline(transport, policy)

		for i := 0; i < 3; i++ {
			_, _ = send(p)
		}

		Expect(transitions).To(ContainElement("closed->open"))
	})
})

// benignClassifier never counts an error as a breaker failure.
type benignClassifier struct{}

func (benignClassifier) ShouldTripCircuit(err error) bool {
	return false
}
