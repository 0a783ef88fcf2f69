//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/daemon"
	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
	"github.com/eliteGoblin/focusd/nightmode/internal/infra"
	"github.com/eliteGoblin/focusd/nightmode/internal/schedule"
	"github.com/eliteGoblin/focusd/nightmode/test/fixtures"
)

const (
	pollInterval = 5 * time.Millisecond
	waitFor      = 2 * time.Second
)

// windowAhead returns a schedule window that starts two hours from now,
// so the service starts outside it.
func windowAhead() string {
	now := time.Now()
	start := domain.TimeOfDay{Hour: (now.Hour() + 2) % 24, Minute: now.Minute()}
	end := domain.TimeOfDay{Hour: (now.Hour() + 3) % 24, Minute: now.Minute()}
	return start.String() + "|" + end.String()
}

var _ = Describe("Night mode service", func() {
	var (
		store   *infra.EncryptedStore
		query   *fixtures.ScriptedQuery
		overlay *fixtures.RecordingOverlay
		alarms  *schedule.AlarmClock
		svc     *daemon.Service
		cancel  context.CancelFunc
		done    chan error
		stopped bool
	)

	startService := func() {
		logger := zap.NewNop()
		alarms = schedule.NewAlarmClock(func(tag string) { svc.AlarmFired(tag) }, logger)

		config := daemon.DefaultServiceConfig()
		config.PollInterval = pollInterval

		svc = daemon.NewService(config, daemon.ServiceDeps{
			Store:    store,
			Registry: store,
			Query:    query,
			Overlay:  overlay,
			Schedule: alarms,
		}, domain.Daemon{PID: os.Getpid(), Role: domain.RoleService, StartedAt: time.Now()}, logger)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		stopped = false
		go func() { done <- svc.Run(ctx) }()
	}

	stopService := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		Eventually(done, waitFor).Should(Receive(MatchError(context.Canceled)))
		alarms.Close()
	}

	BeforeEach(func() {
		var err error
		store, err = infra.OpenStore(GinkgoT().TempDir(), infra.NewProcessManager())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)

		overlay = fixtures.NewRecordingOverlay()
	})

	Context("in auto mode with a whitelist", func() {
		BeforeEach(func() {
			prefs := domain.DefaultPreferences()
			prefs.Whitelist = "org.mozilla.firefox|"
			Expect(store.SavePreferences(prefs)).To(Succeed())

			query = fixtures.NewScriptedQuery("org.gnome.Terminal")
			startService()
			DeferCleanup(stopService)
		})

		It("registers itself and records that it is running", func() {
			Eventually(func() int {
				entry, _ := store.GetAll()
				if entry == nil {
					return 0
				}
				return entry.ServicePID
			}, waitFor).Should(Equal(os.Getpid()))

			prefs, err := store.LoadPreferences()
			Expect(err).NotTo(HaveOccurred())
			Expect(prefs.ServiceRunning).To(BeTrue())
		})

		It("dims only while a whitelisted app is in front", func() {
			Eventually(overlay.Last, waitFor).Should(Equal(fixtures.CallDimOut))

			query.Set("org.mozilla.firefox")
			Eventually(overlay.Last, waitFor).Should(Equal(fixtures.CallDimIn))

			query.Set("org.gnome.Terminal")
			Eventually(overlay.Last, waitFor).Should(Equal(fixtures.CallDimOut))
		})

		It("picks up a mode stored by another process on reload", func() {
			Eventually(overlay.Last, waitFor).Should(Equal(fixtures.CallDimOut))

			prefs, err := store.LoadPreferences()
			Expect(err).NotTo(HaveOccurred())
			prefs.Mode = domain.ModeNight
			Expect(store.SavePreference(domain.TagMode, prefs)).To(Succeed())

			svc.Reload()
			Eventually(overlay.Last, waitFor).Should(Equal(fixtures.CallDimIn))
		})

		It("applies alpha and color changes to the overlay", func() {
			prefs, err := store.LoadPreferences()
			Expect(err).NotTo(HaveOccurred())
			prefs.Alpha = 0.8
			prefs.Color = 0xFF203040
			Expect(store.SavePreferences(prefs)).To(Succeed())

			svc.Reload()
			Eventually(func() uint32 {
				_, color := overlay.Style()
				return color
			}, waitFor).Should(Equal(uint32(0xFF203040)))
			alpha, _ := overlay.Style()
			Expect(alpha).To(BeNumerically("~", 0.8, 1e-9))
		})

		It("un-dims and unregisters on shutdown", func() {
			query.Set("org.mozilla.firefox")
			Eventually(overlay.Last, waitFor).Should(Equal(fixtures.CallDimIn))

			stopService()
			Expect(overlay.Last()).To(Equal(fixtures.CallDimOut))

			entry, err := store.GetAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(entry).To(BeNil())

			prefs, err := store.LoadPreferences()
			Expect(err).NotTo(HaveOccurred())
			Expect(prefs.Mode).To(Equal(domain.ModeAuto))
		})
	})

	Context("with a schedule window", func() {
		BeforeEach(func() {
			prefs := domain.DefaultPreferences()
			prefs.Mode = domain.ModeNormal
			prefs.ScheduleEnabled = true
			prefs.TimeBuckets = windowAhead()
			Expect(store.SavePreferences(prefs)).To(Succeed())

			query = fixtures.NewScriptedQuery("org.gnome.Terminal")
			startService()
			DeferCleanup(stopService)
		})

		It("arms both window alarms", func() {
			Eventually(func() bool {
				_, startArmed := alarms.Next(domain.AlarmWindowStart)
				_, endArmed := alarms.Next(domain.AlarmWindowEnd)
				return startArmed && endArmed
			}, waitFor).Should(BeTrue())
		})

		It("forces night while the window is open without touching the stored mode", func() {
			Eventually(overlay.Last, waitFor).Should(Equal(fixtures.CallDimOut))

			svc.AlarmFired(domain.AlarmWindowStart)
			Eventually(overlay.Last, waitFor).Should(Equal(fixtures.CallDimIn))

			prefs, err := store.LoadPreferences()
			Expect(err).NotTo(HaveOccurred())
			Expect(prefs.Mode).To(Equal(domain.ModeNormal))

			svc.AlarmFired(domain.AlarmWindowEnd)
			Eventually(overlay.Last, waitFor).Should(Equal(fixtures.CallDimOut))
		})
	})
})

var _ = Describe("Guardian", func() {
	var (
		store    *infra.EncryptedStore
		restarts atomic.Int32
		guardian *daemon.Guardian
	)

	BeforeEach(func() {
		var err error
		store, err = infra.OpenStore(GinkgoT().TempDir(), infra.NewProcessManager())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)

		restarts.Store(0)
		config := daemon.GuardianConfig{
			ServiceCheckInterval: 5 * time.Millisecond,
			HeartbeatInterval:    time.Hour,
		}
		guardian = daemon.NewGuardian(config, store, store, func() error {
			restarts.Add(1)
			return nil
		}, domain.Daemon{PID: os.Getpid(), Role: domain.RoleGuardian}, zap.NewNop())
	})

	It("restarts a dead service the user still wants", func() {
		Expect(store.SetServiceRunning(true)).To(Succeed())
		Expect(store.Register(domain.Daemon{PID: 1 << 22, Role: domain.RoleService})).To(Succeed())

		Expect(guardian.CheckService()).To(BeTrue())
		Expect(restarts.Load()).To(Equal(int32(1)))
	})

	It("leaves a live service alone", func() {
		Expect(store.SetServiceRunning(true)).To(Succeed())
		Expect(store.Register(domain.Daemon{PID: os.Getpid(), Role: domain.RoleService})).To(Succeed())

		Expect(guardian.CheckService()).To(BeTrue())
		Expect(restarts.Load()).To(BeZero())
	})

	It("exits once the service is switched off", func() {
		Expect(store.SetServiceRunning(false)).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()

		err := guardian.Run(ctx)
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeFalse())
		Expect(err).NotTo(HaveOccurred())
		Expect(restarts.Load()).To(BeZero())

		entry, err := store.GetAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(entry).To(BeNil(), "guardian unregisters on exit")
	})
})
