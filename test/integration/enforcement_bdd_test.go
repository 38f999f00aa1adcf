//go:build integration

package integration

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/accountd/internal/auth"
	"github.com/eliteGoblin/accountd/internal/domain"
	"github.com/eliteGoblin/accountd/internal/engine"
	"github.com/eliteGoblin/accountd/internal/infra"
)

// stubInspector serves a fixed process table and records kills.
type stubInspector struct {
	mu        sync.Mutex
	processes []domain.ProcessInfo
	browsers  []domain.ProcessInfo
	killed    []int32
}

func (s *stubInspector) ListProcesses(_ context.Context) ([]domain.ProcessInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProcessInfo, len(s.processes))
	copy(out, s.processes)
	return out, nil
}

func (s *stubInspector) ListBrowserProcesses(_ context.Context) ([]domain.ProcessInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProcessInfo, len(s.browsers))
	copy(out, s.browsers)
	return out, nil
}

func (s *stubInspector) Kill(pid int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed = append(s.killed, pid)
	return nil
}

func (s *stubInspector) killedPIDs() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int32, len(s.killed))
	copy(out, s.killed)
	return out
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("Enforcement over the encrypted store", func() {
	var (
		store     *infra.EncryptedStore
		gate      *auth.Gate
		eng       *engine.Engine
		scheduler *engine.Scheduler
		inspector *stubInspector
		clock     *manualClock
	)

	BeforeEach(func() {
		dir := GinkgoT().TempDir()

		provider := infra.NewFileKeyProvider(dir)
		key, err := provider.EnsureKey()
		Expect(err).NotTo(HaveOccurred())

		store, err = infra.NewEncryptedStore(dir, key, 100)
		Expect(err).NotTo(HaveOccurred())

		clock = &manualClock{now: time.Date(2025, time.June, 4, 12, 0, 0, 0, time.UTC)}
		logger := zap.NewNop()
		hasher := infra.NewPinHasher()

		gate = auth.NewGate(store, hasher, clock.Now, auth.DefaultSessionTTL, logger)
		Expect(gate.SetPIN("1234")).To(Succeed())

		recorder := engine.NewRecorder(store, clock.Now, logger)
		cooldowns := engine.NewCooldownTracker(30*time.Second, clock.Now)

		eng, err = engine.New(store, gate, recorder, nil, cooldowns, clock.Now, logger)
		Expect(err).NotTo(HaveOccurred())

		inspector = &stubInspector{
			processes: []domain.ProcessInfo{
				{Name: "steam", Path: "/opt/steam/steam", PID: 42},
				{Name: "editor", Path: "/usr/bin/editor", PID: 43},
			},
			browsers: []domain.ProcessInfo{
				{Name: "chrome", Path: "/usr/bin/chrome", PID: 7},
			},
		}
		scheduler = engine.NewScheduler(engine.DefaultSchedulerConfig(), eng, inspector, clock.Now, logger)
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Describe("App blocking end to end", func() {
		Context("with an armed permanent rule", func() {
			It("kills the matching process and records a block event", func() {
				_, err := eng.AddAppRule("Steam", "/opt/steam/steam",
					domain.RuleSpec{Kind: domain.KindPermanent, Enabled: true})
				Expect(err).NotTo(HaveOccurred())
				Expect(eng.Arm()).To(Succeed())

				scheduler.RunAppCycle(context.Background())

				Expect(inspector.killedPIDs()).To(ConsistOf(int32(42)))

				events, err := store.Events()
				Expect(err).NotTo(HaveOccurred())
				Expect(events).NotTo(BeEmpty())
				Expect(string(events[0].Kind)).To(Equal("block"))
				Expect(events[0].Message).To(ContainSubstring("pid 42"))
			})
		})

		Context("when protection is disarmed", func() {
			It("never kills anything", func() {
				_, err := eng.AddAppRule("Steam", "/opt/steam/steam",
					domain.RuleSpec{Kind: domain.KindPermanent, Enabled: true})
				Expect(err).NotTo(HaveOccurred())

				scheduler.RunAppCycle(context.Background())
				Expect(inspector.killedPIDs()).To(BeEmpty())
			})
		})

		Context("with a timer rule", func() {
			It("stops enforcing once the window elapses", func() {
				_, err := eng.AddAppRule("Steam", "/opt/steam/steam", domain.RuleSpec{
					Kind:            domain.KindTimer,
					Enabled:         true,
					StartTime:       clock.Now(),
					DurationMinutes: 30,
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(eng.Arm()).To(Succeed())

				scheduler.RunAppCycle(context.Background())
				Expect(inspector.killedPIDs()).To(HaveLen(1))

				clock.Advance(31 * time.Minute)
				eng.Reload()
				scheduler.RunAppCycle(context.Background())
				Expect(inspector.killedPIDs()).To(HaveLen(1), "expired timer no longer kills")
			})
		})
	})

	Describe("Website blocking end to end", func() {
		BeforeEach(func() {
			_, err := eng.AddWebsiteRule("reddit.com",
				domain.RuleSpec{Kind: domain.KindPermanent, Enabled: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(eng.Arm()).To(Succeed())
			Expect(eng.ArmWebsites()).To(Succeed())
		})

		It("waits out the grace period before closing browsers", func() {
			scheduler.RunWebsiteCycle(context.Background())
			Expect(inspector.killedPIDs()).To(BeEmpty())

			clock.Advance(30 * time.Second)
			scheduler.RunWebsiteCycle(context.Background())
			Expect(inspector.killedPIDs()).To(ConsistOf(int32(7)))
		})

		It("throttles repeat kills of a relaunched browser", func() {
			scheduler.RunWebsiteCycle(context.Background())
			clock.Advance(30 * time.Second)
			scheduler.RunWebsiteCycle(context.Background())
			Expect(inspector.killedPIDs()).To(HaveLen(1))

			scheduler.RunWebsiteCycle(context.Background())
			Expect(inspector.killedPIDs()).To(HaveLen(1), "inside cooldown")

			clock.Advance(30 * time.Second)
			scheduler.RunWebsiteCycle(context.Background())
			Expect(inspector.killedPIDs()).To(HaveLen(2))
		})
	})

	Describe("Authorization flow", func() {
		It("gates disarm behind the PIN and honors session expiry", func() {
			Expect(eng.Arm()).To(Succeed())

			err := eng.Disarm()
			var aerr *domain.AuthorizationError
			Expect(err).To(BeAssignableToTypeOf(aerr))

			ok, err := gate.Verify("1234")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(eng.Disarm()).To(Succeed())

			Expect(eng.Arm()).To(Succeed())
			clock.Advance(auth.DefaultSessionTTL + time.Second)
			Expect(eng.Disarm()).NotTo(Succeed(), "session expired")
		})

		It("persists settings across a store reopen", func() {
			Expect(eng.Arm()).To(Succeed())

			settings, err := store.Settings()
			Expect(err).NotTo(HaveOccurred())
			Expect(settings.Armed).To(BeTrue())
			Expect(settings.PINHash).NotTo(BeEmpty())
		})
	})

	Describe("Killswitch", func() {
		It("disables everything without a PIN and logs one event", func() {
			Expect(eng.Arm()).To(Succeed())
			Expect(eng.ArmWebsites()).To(Succeed())

			eng.Killswitch()

			state := eng.State()
			Expect(state.Armed).To(BeFalse())
			Expect(state.WebsiteArmed).To(BeFalse())

			events, err := store.Events()
			Expect(err).NotTo(HaveOccurred())
			count := 0
			for _, e := range events {
				if e.Kind == domain.EventKillswitch {
					count++
				}
			}
			Expect(count).To(Equal(1))

			scheduler.RunAppCycle(context.Background())
			Expect(inspector.killedPIDs()).To(BeEmpty())
		})
	})
})
