package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	pipeline "github.com/JohnPlummer/jp-go-pipeline"
)

func staticTokenSource(value string, expiry time.Time) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: value, Expiry: expiry})
}

// mockCredential implements pipeline.TokenCredential for testing.
type mockCredential struct {
	getFunc   func(ctx context.Context) (pipeline.AccessToken, error)
	callCount atomic.Int32
}

func (m *mockCredential) GetToken(ctx context.Context) (pipeline.AccessToken, error) {
	m.callCount.Add(1)
	return m.getFunc(ctx)
}

func (m *mockCredential) calls() int {
	return int(m.callCount.Load())
}

func freshToken(value string) pipeline.AccessToken {
	return pipeline.AccessToken{Token: value, ExpiresOn: time.Now().Add(time.Hour)}
}

var _ = Describe("CredentialCache", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		cred   *mockCredential
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		cred = &mockCredential{}
	})

	AfterEach(func() {
		cancel()
	})

	variants := []struct {
		name  string
		build func(cred pipeline.TokenCredential, opts ...pipeline.TokenCacheOption) pipeline.CredentialCache
	}{
		{
			name: "blocking",
			build: func(cred pipeline.TokenCredential, opts ...pipeline.TokenCacheOption) pipeline.CredentialCache {
				return pipeline.NewTokenCache(cred, opts...)
			},
		},
		{
			name: "cooperative",
			build: func(cred pipeline.TokenCredential, opts ...pipeline.TokenCacheOption) pipeline.CredentialCache {
				return pipeline.NewAsyncTokenCache(cred, opts...)
			},
		},
	}

	for _, variant := range variants {
		variant := variant

		Context(variant.name+" variant", func() {
			It("serves a fresh seeded token without calling the credential", func() {
				seed := freshToken("seed")
				cache := variant.build(cred, pipeline.WithInitialToken(seed))

				tok, err := cache.Token(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(tok.Token).To(Equal("seed"))
				Expect(cred.calls()).To(Equal(0))
			})

			It("refreshes a token inside the proactive window", func() {
				expiring := pipeline.AccessToken{
					Token:     "stale",
					ExpiresOn: time.Now().Add(time.Minute), // inside the default 2m window
				}
				cred.getFunc = func(ctx context.Context) (pipeline.AccessToken, error) {
					return freshToken("renewed"), nil
				}
				cache := variant.build(cred, pipeline.WithInitialToken(expiring))

				tok, err := cache.Token(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(tok.Token).To(Equal("renewed"))
				Expect(cred.calls()).To(Equal(1))
			})

			It("honors a shortened refresh window", func() {
				seed := pipeline.AccessToken{
					Token:     "short-lived",
					ExpiresOn: time.Now().Add(time.Minute),
				}
				cache := variant.build(cred,
					pipeline.WithInitialToken(seed),
					pipeline.WithRefreshWindow(time.Second))

				tok, err := cache.Token(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(tok.Token).To(Equal("short-lived"))
				Expect(cred.calls()).To(Equal(0))
			})

			It("coalesces concurrent callers into a single refresh", func() {
				cred.getFunc = func(ctx context.Context) (pipeline.AccessToken, error) {
					time.Sleep(50 * time.Millisecond)
					return freshToken("shared"), nil
				}
				cache := variant.build(cred)

				g, gctx := errgroup.WithContext(ctx)
				for i := 0; i < 5; i++ {
					g.Go(func() error {
						tok, err := cache.Token(gctx)
						if err != nil {
							return err
						}
						if tok.Token != "shared" {
							return fmt.Errorf("unexpected token %q", tok.Token)
						}
						return nil
					})
				}

				Expect(g.Wait()).To(Succeed())
				Expect(cred.calls()).To(Equal(1))
			})

			It("surfaces a refresh failure without caching it", func() {
				refreshErr := errors.New("identity provider unavailable")
				failures := 0
				cred.getFunc = func(ctx context.Context) (pipeline.AccessToken, error) {
					failures++
					if failures == 1 {
						return pipeline.AccessToken{}, refreshErr
					}
					return freshToken("second-try"), nil
				}
				cache := variant.build(cred)

				_, err := cache.Token(ctx)
				Expect(err).To(MatchError(refreshErr))

				tok, err := cache.Token(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(tok.Token).To(Equal("second-try"))
				Expect(cred.calls()).To(Equal(2))
			})

			It("errors when it has neither a credential nor a token", func() {
				cache := variant.build(nil)
				_, err := cache.Token(ctx)
				Expect(err).To(HaveOccurred())
			})

			It("serves a seeded token forever when there is no credential", func() {
				seed := freshToken("static")
				cache := variant.build(nil, pipeline.WithInitialToken(seed))

				tok, err := cache.Token(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(tok.Token).To(Equal("static"))
			})
		})
	}

	Context("cooperative variant waits", func() {
		It("releases a waiting caller when its context is canceled", func() {
			release := make(chan struct{})
			cred.getFunc = func(ctx context.Context) (pipeline.AccessToken, error) {
				<-release
				return freshToken("late"), nil
			}
			cache := pipeline.NewAsyncTokenCache(cred)

			started := make(chan struct{})
			go func() {
				close(started)
				_, _ = cache.Token(ctx)
			}()
			<-started

			// Wait for the first caller to claim the refresh.
			Eventually(cred.calls).Should(Equal(1))

			waitCtx, waitCancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer waitCancel()

			_, err := cache.Token(waitCtx)
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())

			close(release)
		})
	})
})

var _ = Describe("OAuth2 adapters", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	})

	AfterEach(func() {
		cancel()
	})

	It("wraps an oauth2 token source as a credential", func() {
		source := staticTokenSource("from-oauth2", time.Now().Add(time.Hour))
		cred := pipeline.NewOAuth2Credential(source)

		tok, err := cred.GetToken(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(tok.Token).To(Equal("from-oauth2"))
	})

	It("exposes a cache as an oauth2 token source", func() {
		cache := pipeline.NewTokenCache(nil, pipeline.WithInitialToken(freshToken("cached")))
		source := pipeline.TokenSource(cache)

		tok, err := source.Token()
		Expect(err).NotTo(HaveOccurred())
		Expect(tok.AccessToken).To(Equal("cached"))
	})
})
