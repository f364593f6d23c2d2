package engine_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/cellsim/internal/compute"
	"github.com/san-kum/cellsim/internal/config"
	"github.com/san-kum/cellsim/internal/connectivity"
	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/engine"
)

var _ = Describe("Worker", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		kernel   *stubKernel
		settings *config.Settings
		worker   *engine.Worker
	)

	world := func() description.IntVector {
		return description.IntVector{X: settings.General.WorldSizeX, Y: settings.General.WorldSizeY}
	}

	snapshot := func() description.Data {
		data, err := worker.RequestSnapshot(ctx, description.IntVector{}, world())
		Expect(err).NotTo(HaveOccurred())
		return data
	}

	findCell := func(data description.Data, id uint64) description.Cell {
		for _, cluster := range data.Clusters {
			for _, cell := range cluster.Cells {
				if cell.ID == id {
					return cell
				}
			}
		}
		Fail("cell not found")
		return description.Cell{}
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		kernel = newStubKernel()
		settings = testSettings()
	})

	AfterEach(func() {
		cancel()
		if worker != nil {
			_ = worker.Shutdown()
		}
		worker = nil
	})

	start := func(opts ...engine.Option) {
		opts = append([]engine.Option{engine.WithLogger(testLogger())}, opts...)
		worker = engine.New(kernel, settings, opts...)
		Expect(worker.Start(ctx)).To(Succeed())
	}

	Describe("lifecycle", func() {
		It("rejects calls before Start", func() {
			worker = engine.New(kernel, settings, engine.WithLogger(testLogger()))
			Expect(worker.Run()).To(MatchError(engine.ErrNotStarted))
			_, err := worker.RequestSnapshot(ctx, description.IntVector{}, world())
			Expect(err).To(MatchError(engine.ErrNotStarted))
			Expect(worker.Wait()).To(MatchError(engine.ErrNotStarted))
		})

		It("terminates when the kernel fails to initialize", func() {
			kernel.initErr = compute.ErrDeviceUnavailable
			worker = engine.New(kernel, settings, engine.WithLogger(testLogger()))

			err := worker.Start(ctx)
			var fatal *engine.FatalError
			Expect(errors.As(err, &fatal)).To(BeTrue())
			Expect(fatal.Op).To(Equal("initialize kernel"))
			Expect(err).To(MatchError(compute.ErrDeviceUnavailable))

			Expect(worker.State()).To(Equal(engine.StateTerminated))
			Expect(worker.Run()).To(MatchError(engine.ErrShutdown))
			Expect(worker.Wait()).To(MatchError(compute.ErrDeviceUnavailable))
		})

		It("starts only once", func() {
			start()
			Expect(worker.Start(ctx)).To(MatchError(engine.ErrAlreadyStarted))
		})

		It("starts paused at the configured timestep", func() {
			settings.General.Timestep = 500
			start()
			Expect(worker.State()).To(Equal(engine.StateIdle))
			Expect(worker.IsRunning()).To(BeFalse())
			Consistently(worker.CurrentTimestep, 100*time.Millisecond).Should(Equal(uint64(500)))
		})

		It("shuts down cleanly and rejects later calls", func() {
			start()
			Expect(worker.Run()).To(Succeed())
			Eventually(worker.CurrentTimestep).Should(BeNumerically(">", 0))

			Expect(worker.Shutdown()).To(Succeed())
			Expect(worker.State()).To(Equal(engine.StateTerminated))
			Expect(kernel.closed.Load()).To(BeTrue())
			Expect(worker.IsRunning()).To(BeFalse())

			_, err := worker.RequestSnapshot(ctx, description.IntVector{}, world())
			Expect(err).To(MatchError(engine.ErrShutdown))
			Expect(worker.SetParameters(settings.Parameters)).To(MatchError(engine.ErrShutdown))
			Expect(worker.Shutdown()).To(Succeed())
		})

		It("shuts down when the start context is cancelled", func() {
			start()
			Expect(worker.Run()).To(Succeed())
			cancel()
			Eventually(worker.Done()).Should(BeClosed())
			Expect(worker.Wait()).To(Succeed())
			Expect(worker.State()).To(Equal(engine.StateTerminated))
		})
	})

	Describe("run and pause", func() {
		BeforeEach(func() { start() })

		It("advances while running and stops advancing once paused", func() {
			Expect(worker.Run()).To(Succeed())
			Expect(worker.Run()).To(Succeed())
			Expect(worker.State()).To(Equal(engine.StateRunning))
			Eventually(worker.CurrentTimestep).Should(BeNumerically(">", 10))

			Expect(worker.Pause(ctx)).To(Succeed())
			Expect(worker.State()).To(Equal(engine.StateIdle))
			stopped := worker.CurrentTimestep()
			Consistently(worker.CurrentTimestep, 200*time.Millisecond).Should(Equal(stopped))

			Expect(worker.Pause(ctx)).To(Succeed())
			Expect(worker.CurrentTimestep()).To(Equal(stopped))
		})

		It("computes exactly one timestep on request", func() {
			worker.SetCurrentTimestep(1000)
			Expect(worker.CalcSingleTimestep(ctx)).To(Succeed())
			Expect(worker.CurrentTimestep()).To(Equal(uint64(1001)))
			Expect(kernel.steps.Load()).To(Equal(int64(1)))
		})

		It("reports zero TPS while paused", func() {
			Expect(worker.Run()).To(Succeed())
			Eventually(worker.TPS, 3*time.Second).Should(BeNumerically(">", 0))
			Expect(worker.Pause(ctx)).To(Succeed())
			Expect(worker.TPS()).To(BeZero())
		})
	})

	Describe("edits and snapshots", func() {
		BeforeEach(func() { start() })

		It("bonds a moved cell to its neighbour", func() {
			var edit description.Data
			edit.AddCluster(description.Cell{ID: 1, Pos: description.Changed(vec(0, 0)), MaxConnections: description.Some(2)})
			edit.AddCluster(description.Cell{ID: 2, Pos: description.Changed(vec(0, 1))})
			Expect(worker.ApplyEdit(ctx, edit)).To(Succeed())

			data := snapshot()
			Expect(data.Clusters).To(HaveLen(1))
			Expect(findCell(data, 1).Connections.Value()).To(Equal([]uint64{2}))
			Expect(findCell(data, 2).Connections.Value()).To(Equal([]uint64{1}))
		})

		It("splits a chain when a cell moves out of range", func() {
			var edit description.Data
			edit.AddCluster(
				description.Cell{ID: 1, Pos: description.Changed(vec(10, 10))},
				description.Cell{ID: 2, Pos: description.Changed(vec(11, 10))},
				description.Cell{ID: 3, Pos: description.Changed(vec(12, 10))},
			)
			Expect(worker.ApplyEdit(ctx, edit)).To(Succeed())
			Expect(snapshot().Clusters).To(HaveLen(1))

			var move description.Data
			move.AddCluster(description.Cell{ID: 3, Pos: description.Changed(vec(20, 10))})
			Expect(worker.ApplyEdit(ctx, move)).To(Succeed())

			var groups [][]uint64
			for _, cluster := range snapshot().Clusters {
				var ids []uint64
				for _, cell := range cluster.Cells {
					ids = append(ids, cell.ID)
				}
				slices.Sort(ids)
				groups = append(groups, ids)
			}
			Expect(groups).To(ConsistOf([]uint64{1, 2}, []uint64{3}))
		})

		It("drops a bond removed from an edited connection list", func() {
			var edit description.Data
			edit.AddCluster(
				description.Cell{ID: 1, Pos: description.Changed(vec(10, 10))},
				description.Cell{ID: 2, Pos: description.Changed(vec(11, 10))},
			)
			Expect(worker.ApplyEdit(ctx, edit)).To(Succeed())
			Expect(findCell(snapshot(), 2).IsBondedTo(1)).To(BeTrue())

			var unbond description.Data
			unbond.AddCluster(description.Cell{ID: 1, Connections: description.Changed([]uint64{})})
			Expect(worker.ApplyEdit(ctx, unbond)).To(Succeed())

			data := snapshot()
			Expect(findCell(data, 1).Connections.Value()).To(BeEmpty())
			Expect(findCell(data, 2).Connections.Value()).To(BeEmpty())
			Expect(data.Clusters).To(HaveLen(2))
		})

		It("returns only clusters intersecting the region", func() {
			var edit description.Data
			edit.AddCluster(description.Cell{ID: 1, Pos: description.Changed(vec(2, 2))})
			edit.AddCluster(description.Cell{ID: 2, Pos: description.Changed(vec(20, 20))})
			Expect(worker.ApplyEdit(ctx, edit)).To(Succeed())

			data, err := worker.RequestSnapshot(ctx, description.IntVector{X: 0, Y: 0}, description.IntVector{X: 5, Y: 5})
			Expect(err).NotTo(HaveOccurred())
			Expect(data.CellCount()).To(Equal(1))
			Expect(data.Clusters[0].Cells[0].ID).To(Equal(uint64(1)))
		})

		It("rejects an edit beyond device capacity and keeps running", func() {
			Expect(worker.Shutdown()).To(Succeed())
			kernel = newStubKernel()
			settings.Device.MaxCells = 2
			start()

			var edit description.Data
			edit.AddCluster(description.Cell{ID: 1}, description.Cell{ID: 2}, description.Cell{ID: 3})
			Expect(worker.ApplyEdit(ctx, edit)).To(MatchError(compute.ErrCapacityExceeded))
			Expect(worker.State()).To(Equal(engine.StateIdle))
			Expect(snapshot().IsEmpty()).To(BeTrue())
		})

		It("terminates on a bond to an unknown cell", func() {
			var edit description.Data
			edit.AddCluster(description.Cell{
				ID:          1,
				Pos:         description.Changed(vec(1, 1)),
				Connections: description.Some([]uint64{999}),
			})

			err := worker.ApplyEdit(ctx, edit)
			Expect(err).To(MatchError(connectivity.ErrDanglingCell))
			var fatal *engine.FatalError
			Expect(errors.As(err, &fatal)).To(BeTrue())

			Eventually(worker.State).Should(Equal(engine.StateTerminated))
			Expect(worker.Err()).To(MatchError(connectivity.ErrDanglingCell))
			Expect(worker.Run()).To(MatchError(engine.ErrShutdown))
		})

		It("clears the simulation", func() {
			var edit description.Data
			edit.AddCluster(description.Cell{ID: 1, Pos: description.Changed(vec(1, 1))})
			Expect(worker.ApplyEdit(ctx, edit)).To(Succeed())
			Expect(worker.Statistics().Cells).To(Equal(1))

			Expect(worker.Clear(ctx)).To(Succeed())
			Expect(worker.Statistics().Cells).To(BeZero())
			Expect(snapshot().IsEmpty()).To(BeTrue())
		})

		It("gives up on a request the loop has not picked up when the caller's context ends", func() {
			kernel.readEntered = make(chan struct{})
			kernel.readRelease = make(chan struct{})

			blocked := make(chan error, 1)
			go func() {
				_, err := worker.RequestSnapshot(ctx, description.IntVector{}, world())
				blocked <- err
			}()
			Eventually(kernel.readEntered).Should(Receive())

			short, shortCancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer shortCancel()
			_, err := worker.RequestSnapshot(short, description.IntVector{}, world())
			Expect(err).To(MatchError(context.DeadlineExceeded))

			kernel.readEntered = nil
			close(kernel.readRelease)
			Eventually(blocked).Should(Receive(BeNil()))
		})
	})

	Describe("parameters", func() {
		It("applies only the latest pending update", func() {
			start()
			kernel.readEntered = make(chan struct{})
			kernel.readRelease = make(chan struct{})

			go func() {
				defer GinkgoRecover()
				_, _ = worker.RequestSnapshot(ctx, description.IntVector{}, world())
			}()
			Eventually(kernel.readEntered).Should(Receive())

			first := settings.Parameters
			first.Friction = 0.1
			second := settings.Parameters
			second.Friction = 0.2
			Expect(worker.SetParameters(first)).To(Succeed())
			Expect(worker.SetParameters(second)).To(Succeed())

			kernel.readEntered = nil
			close(kernel.readRelease)

			Eventually(kernel.appliedParameters).Should(HaveLen(1))
			Consistently(kernel.appliedParameters, 100*time.Millisecond).Should(HaveLen(1))
			Expect(kernel.appliedParameters()[0].Friction).To(Equal(0.2))
		})

		It("uses updated bonding parameters for later edits", func() {
			start()
			p := settings.Parameters
			p.CellMaxBindingDistance = 3
			Expect(worker.SetParameters(p)).To(Succeed())
			Eventually(kernel.appliedParameters).Should(HaveLen(1))

			var edit description.Data
			edit.AddCluster(description.Cell{ID: 1, Pos: description.Changed(vec(5, 5))})
			edit.AddCluster(description.Cell{ID: 2, Pos: description.Changed(vec(7.5, 5))})
			Expect(worker.ApplyEdit(ctx, edit)).To(Succeed())
			Expect(findCell(snapshot(), 1).IsBondedTo(2)).To(BeTrue())
		})
	})

	Describe("statistics", func() {
		It("reflects edits and the TPS limit without waiting for the loop", func() {
			start()
			var edit description.Data
			edit.AddCluster(
				description.Cell{ID: 1, Pos: description.Changed(vec(1, 1)), Energy: description.Some(10.0), Tokens: description.Some(2)},
				description.Cell{ID: 2, Pos: description.Changed(vec(9, 9)), Energy: description.Some(20.0)},
			)
			edit.AddParticles(description.Particle{ID: 3, Pos: description.Some(vec(4, 4)), Energy: description.Some(5.0)})
			Expect(worker.ApplyEdit(ctx, edit)).To(Succeed())

			worker.SetTPSLimit(25)
			stats := worker.Statistics()
			Expect(stats.Cells).To(Equal(2))
			Expect(stats.Particles).To(Equal(1))
			Expect(stats.Tokens).To(Equal(2))
			Expect(stats.InternalEnergy).To(BeNumerically("~", 35.0, 1e-9))
			Expect(stats.TPSLimit).To(Equal(25))
			Expect(stats.State).To(Equal(engine.StateIdle))
			Expect(stats.UpdatedAt).NotTo(BeZero())

			kernel.readEntered = make(chan struct{})
			kernel.readRelease = make(chan struct{})
			go func() {
				defer GinkgoRecover()
				_, _ = worker.RequestSnapshot(ctx, description.IntVector{}, world())
			}()
			Eventually(kernel.readEntered).Should(Receive())

			read := make(chan engine.Statistics, 1)
			go func() { read <- worker.Statistics() }()
			Eventually(read).Should(Receive())

			kernel.readEntered = nil
			close(kernel.readRelease)
		})
	})

	Describe("access exclusivity", func() {
		It("never opens an access window during a timestep", func() {
			start(engine.WithStepHook(func(inStep bool) { kernel.hookInStep.Store(inStep) }))
			Expect(worker.Run()).To(Succeed())

			var wg sync.WaitGroup
			deadline := time.Now().Add(500 * time.Millisecond)
			for g := range 4 {
				wg.Add(1)
				go func(g int) {
					defer GinkgoRecover()
					defer wg.Done()
					for i := 0; time.Now().Before(deadline); i++ {
						var edit description.Data
						edit.AddCluster(description.Cell{
							ID:  uint64(g + 1),
							Pos: description.Changed(vec(float64(g*8+i%3), 3)),
						})
						Expect(worker.ApplyEdit(ctx, edit)).To(Succeed())
						_, err := worker.RequestSnapshot(ctx, description.IntVector{}, world())
						Expect(err).NotTo(HaveOccurred())
						_ = worker.Statistics()
					}
				}(g)
			}
			wg.Wait()

			Expect(worker.Pause(ctx)).To(Succeed())
			Expect(kernel.steps.Load()).To(BeNumerically(">", 0))
			Expect(kernel.violations.Load()).To(BeZero())
		})
	})

	Describe("throttling", func() {
		It("keeps the rate under the TPS limit", func() {
			start()
			worker.SetTPSLimit(10)
			Expect(worker.Run()).To(Succeed())

			begin := worker.CurrentTimestep()
			time.Sleep(5 * time.Second)
			steps := worker.CurrentTimestep() - begin

			Expect(float64(steps) / 5).To(BeNumerically("<=", 11))
			Expect(steps).To(BeNumerically(">=", 40))
			Expect(worker.TPS()).To(BeNumerically("<=", 11))
		})

		It("serves access requests while waiting for the next slot", func() {
			start()
			worker.SetTPSLimit(1)
			Expect(worker.Run()).To(Succeed())
			Eventually(worker.CurrentTimestep).Should(BeNumerically(">=", 1))

			began := time.Now()
			_, err := worker.RequestSnapshot(ctx, description.IntVector{}, world())
			Expect(err).NotTo(HaveOccurred())
			Expect(time.Since(began)).To(BeNumerically("<", 500*time.Millisecond))

			Expect(worker.Pause(ctx)).To(Succeed())
			Expect(time.Since(began)).To(BeNumerically("<", 900*time.Millisecond))
		})

		It("lifts the cap when the limit is reset to zero", func() {
			start()
			worker.SetTPSLimit(1)
			Expect(worker.Run()).To(Succeed())
			worker.SetTPSLimit(0)
			Eventually(worker.CurrentTimestep).Should(BeNumerically(">", 100))
		})
	})

	Describe("kernel failure", func() {
		It("terminates the worker without retrying", func() {
			start()
			kernel.failStep.Store(true)
			Expect(worker.Run()).To(Succeed())

			Eventually(worker.Done()).Should(BeClosed())
			var fatal *engine.FatalError
			Expect(errors.As(worker.Err(), &fatal)).To(BeTrue())
			Expect(fatal.Op).To(Equal("compute timestep"))
			Expect(worker.Err()).To(MatchError(errDeviceLost))
			Expect(kernel.steps.Load()).To(BeZero())
			Expect(kernel.closed.Load()).To(BeTrue())

			Expect(worker.CalcSingleTimestep(ctx)).To(MatchError(engine.ErrShutdown))
		})
	})
})
