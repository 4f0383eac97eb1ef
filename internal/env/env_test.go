package env_test

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/emutest"
	"github.com/cartridge/emulator/internal/env"
	"github.com/cartridge/emulator/internal/game"
	"github.com/cartridge/emulator/internal/observation"
	"github.com/cartridge/emulator/internal/recording"
	"github.com/cartridge/emulator/internal/reward"
	"github.com/cartridge/emulator/internal/snapshot"
	"github.com/cartridge/emulator/internal/supervisor"
)

func TestHelperProcess(t *testing.T) { emutest.RunHelper() }

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type fixture struct {
	env *env.Environment
	cfg supervisor.Config
}

func newEnv(t *testing.T, opts emutest.Options, eopts env.Options) fixture {
	t.Helper()
	cfg := emutest.Config(t, opts)
	if eopts.Codec == nil {
		codec, err := observation.New(observation.DefaultOptions())
		require.NoError(t, err)
		eopts.Codec = codec
	}
	if eopts.Reward == nil {
		eopts.Reward = reward.ScoreDeltaPolicy{}
	}
	eopts.SaveState = cfg.SaveState

	e, err := env.New(supervisor.New(cfg, zerolog.Nop()), eopts, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return fixture{env: e, cfg: cfg}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	sup := supervisor.New(supervisor.Default(), zerolog.Nop())
	codec := observation.NewThreatRing()

	_, err := env.New(nil, env.Options{Codec: codec, Reward: reward.GradePolicy{}}, zerolog.Nop())
	assert.Error(t, err)
	_, err = env.New(sup, env.Options{Reward: reward.GradePolicy{}}, zerolog.Nop())
	assert.Error(t, err)
	_, err = env.New(sup, env.Options{Codec: codec}, zerolog.Nop())
	assert.Error(t, err)

	e, err := env.New(sup, env.Options{Codec: codec, Reward: reward.GradePolicy{}}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, action.Default().Cardinality(), e.Space().Cardinality())
	assert.Equal(t, []int{18}, e.ObservationShape())
	require.NoError(t, e.Close())
}

func TestStep_BeforeReset(t *testing.T) {
	f := newEnv(t, emutest.Options{}, env.Options{})

	_, err := f.env.Step(testContext(t), "000")
	assert.ErrorIs(t, err, env.ErrNotReset)
	assert.Nil(t, f.env.Channel())
}

func TestReset_ReportsInitialState(t *testing.T) {
	f := newEnv(t, emutest.Options{}, env.Options{})
	ctx := testContext(t)

	obs, err := f.env.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{80, 80}, obs.Shape)
	assert.Equal(t, 80*80, obs.Len())

	c := f.env.Counters()
	assert.Equal(t, emutest.InitialLives, c.Lives)
	assert.Equal(t, emutest.InitialScore, c.Score)
	assert.Zero(t, c.Steps)
	assert.Zero(t, f.env.Trace().Len())

	for i := 0; i < 4; i++ {
		res, err := f.env.Step(ctx, "001")
		require.NoError(t, err)
		assert.Equal(t, obs.Shape, res.Observation.Shape)
		assert.Equal(t, obs.Len(), res.Observation.Len())
		assert.False(t, res.Done)
		assert.Positive(t, res.Reward)
		assert.Equal(t, action.Action("001"), res.Info.Action)
	}
	c = f.env.Counters()
	assert.Equal(t, 4, c.Steps)
	assert.Equal(t, 4, c.Hit)
	assert.Equal(t, 4, c.MaxHit)
	assert.Equal(t, float64(c.Score), c.RewardSum)
}

func TestStep_ReportsBulletMotion(t *testing.T) {
	f := newEnv(t, emutest.Options{}, env.Options{})
	ctx := testContext(t)
	_, err := f.env.Reset(ctx)
	require.NoError(t, err)

	res, err := f.env.Step(ctx, "000")
	require.NoError(t, err)
	require.Len(t, res.Info.Bullets, 1)
	m := res.Info.Bullets[0]
	assert.Equal(t, 0, m.Slot)
	assert.Equal(t, 0, m.DX)
	assert.Equal(t, 1, m.DY)
	assert.Equal(t, f.env.State().Bullets[0], m.Entity)
}

func TestStep_RejectsInvalidActions(t *testing.T) {
	f := newEnv(t, emutest.Options{}, env.Options{})
	ctx := testContext(t)
	_, err := f.env.Reset(ctx)
	require.NoError(t, err)

	for _, a := range []action.Action{"", "00", "0001", "300", "abc", "002"} {
		_, err := f.env.Step(ctx, a)
		assert.ErrorIs(t, err, action.ErrInvalidAction, "action %q", a)
	}

	_, err = f.env.StepOrdinal(ctx, action.Default().Cardinality())
	assert.ErrorIs(t, err, action.ErrInvalidAction)
	assert.ErrorIs(t, err, action.ErrInvalidOrdinal)

	// rejected actions leave the session usable; axes are the low digits
	res, err := f.env.StepOrdinal(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, action.Action("100"), res.Info.Action)
	assert.Equal(t, 1, f.env.Counters().Steps)
}

func TestStep_LifeLossEndsEpisode(t *testing.T) {
	f := newEnv(t, emutest.Options{DeathStep: 3}, env.Options{})
	ctx := testContext(t)
	_, err := f.env.Reset(ctx)
	require.NoError(t, err)

	var last env.StepResult
	for i := 0; i < 3; i++ {
		last, err = f.env.Step(ctx, "000")
		require.NoError(t, err)
		if i < 2 {
			assert.False(t, last.Done, "step %d", i)
		}
	}
	assert.True(t, last.Done)
	assert.Equal(t, reward.LifeLossPenalty, last.Reward)
	assert.Equal(t, emutest.InitialLives-1, last.Info.Lives)
}

func TestReset_StartsFreshSession(t *testing.T) {
	f := newEnv(t, emutest.Options{}, env.Options{})
	ctx := testContext(t)

	_, err := f.env.Reset(ctx)
	require.NoError(t, err)
	_, err = f.env.Step(ctx, "001")
	require.NoError(t, err)
	first := f.env.Channel()

	_, err = f.env.Reset(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, f.env.Channel())
	assert.Equal(t, emutest.InitialScore, f.env.Counters().Score)
	assert.Zero(t, f.env.Trace().Len())
}

func TestTransformsApplyToObservationOnly(t *testing.T) {
	codec := observation.NewThreatRing()
	f := newEnv(t, emutest.Options{}, env.Options{
		Codec:      codec,
		Transforms: []game.Transform{game.FlipXY()},
	})
	ctx := testContext(t)

	obs, err := f.env.Reset(ctx)
	require.NoError(t, err)

	raw := f.env.State()
	assert.Equal(t, float32(raw.Ship.Y), obs.Data[0], "flipped ship x")
	assert.Equal(t, float32(raw.Ship.X), obs.Data[1], "flipped ship y")
}

func TestRecordThenReplay(t *testing.T) {
	f := newEnv(t, emutest.Options{}, env.Options{})
	ctx := testContext(t)
	_, err := f.env.Reset(ctx)
	require.NoError(t, err)

	for _, a := range []action.Action{"001", "121", "201", "000", "211"} {
		_, err := f.env.Step(ctx, a)
		require.NoError(t, err)
	}
	trace := f.env.Trace()
	require.Equal(t, 5, trace.Len())
	assert.Equal(t, "start", trace.SaveState)

	path := filepath.Join(t.TempDir(), "episode.trace")
	require.NoError(t, trace.SaveFile(path))
	loaded, err := recording.LoadFile(path)
	require.NoError(t, err)

	r := &recording.Replayer{Logger: zerolog.Nop()}
	require.NoError(t, r.Run(ctx, f.env.Channel(), loaded))

	loaded.Steps[2].Score++
	r.MaxRetries = 1
	err = r.Run(ctx, f.env.Channel(), loaded)
	require.ErrorIs(t, err, recording.ErrDesync)
	var desync *recording.DesyncError
	require.ErrorAs(t, err, &desync)
	assert.Equal(t, 2, desync.Step)
	assert.Equal(t, desync.Expected-1, desync.Actual)
}

func TestSnapshotsAreComposed(t *testing.T) {
	writer := snapshot.NewWriter(16, zerolog.Nop())
	f := newEnv(t, emutest.Options{}, env.Options{Snapshots: writer})
	ctx := testContext(t)

	_, err := f.env.Reset(ctx)
	require.NoError(t, err)
	res, err := f.env.Step(ctx, "001")
	require.NoError(t, err)
	require.NotEmpty(t, res.Info.Snapshot)
	require.NoError(t, writer.Drain(ctx))

	file, err := os.Open(res.Info.Snapshot)
	require.NoError(t, err)
	defer file.Close()
	img, err := png.Decode(file)
	require.NoError(t, err)
	assert.Equal(t, 2*game.ScreenWidth, img.Bounds().Dx())
	assert.Equal(t, game.ScreenHeight, img.Bounds().Dy())

	written, failed := writer.Stats()
	assert.Equal(t, 2, written)
	assert.Zero(t, failed)
}

func TestClose_IsIdempotent(t *testing.T) {
	f := newEnv(t, emutest.Options{}, env.Options{})
	_, err := f.env.Reset(testContext(t))
	require.NoError(t, err)

	require.NoError(t, f.env.Close())
	require.NoError(t, f.env.Close())
	assert.Nil(t, f.env.Channel())
}
