package pages_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/stackgc/memutils"
	"github.com/vkngwrapper/stackgc/memutils/pages"
	mock_pages "github.com/vkngwrapper/stackgc/memutils/pages/mocks"
	"go.uber.org/mock/gomock"
)

func TestTrackerRoundsToPages(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mock_pages.NewMockPageSource(ctrl)
	source.EXPECT().PageSize().AnyTimes().Return(4096)
	source.EXPECT().Map(8192).Return(make([]byte, 8192), nil)

	tracker, err := pages.NewTracker(source, 0, nil)
	require.NoError(t, err)

	region, err := tracker.Acquire(4097)
	require.NoError(t, err)
	require.Len(t, region, 8192)
	require.Equal(t, 1, tracker.RegionCount())
	require.Equal(t, 8192, tracker.MappedBytes())
	require.Equal(t, 1, tracker.AcquireCount())

	source.EXPECT().Unmap(gomock.Any()).Return(nil)
	require.NoError(t, tracker.Release(region))
	require.Equal(t, 0, tracker.RegionCount())
	require.Equal(t, 0, tracker.MappedBytes())
	require.Equal(t, 1, tracker.AcquireCount())
}

func TestTrackerBudget(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mock_pages.NewMockPageSource(ctrl)
	source.EXPECT().PageSize().AnyTimes().Return(4096)
	source.EXPECT().Map(4096).Return(make([]byte, 4096), nil)

	tracker, err := pages.NewTracker(source, 6000, nil)
	require.NoError(t, err)

	_, err = tracker.Acquire(100)
	require.NoError(t, err)

	_, err = tracker.Acquire(100)
	require.ErrorIs(t, err, pages.ErrBudgetExceeded)
	require.Equal(t, 4096, tracker.MappedBytes())
	require.Equal(t, 1, tracker.RegionCount())
}

func TestTrackerRollsBackOnMapFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mapErr := errors.New("out of memory")
	source := mock_pages.NewMockPageSource(ctrl)
	source.EXPECT().PageSize().AnyTimes().Return(4096)
	source.EXPECT().Map(4096).Return(nil, mapErr)

	tracker, err := pages.NewTracker(source, 0, nil)
	require.NoError(t, err)

	_, err = tracker.Acquire(10)
	require.ErrorIs(t, err, mapErr)
	require.Equal(t, 0, tracker.MappedBytes())
	require.Equal(t, 0, tracker.RegionCount())
	require.Equal(t, 0, tracker.AcquireCount())
}

func TestTrackerCallbacks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	callbacks := mock_pages.NewMockCallbacks(ctrl)
	tracker, err := pages.NewTracker(pages.DefaultSource(), 0, callbacks)
	require.NoError(t, err)

	callbacks.EXPECT().Acquired(gomock.Any()).Do(func(region []byte) {
		require.Equal(t, tracker.PageSize(), len(region))
	})
	region, err := tracker.Acquire(1)
	require.NoError(t, err)

	// Fresh mappings are zeroed and writable
	require.Equal(t, byte(0), region[len(region)-1])
	region[0] = 0xAB

	callbacks.EXPECT().Released(gomock.Any())
	require.NoError(t, tracker.Release(region))
}

func TestTrackerRejectsBadPageSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mock_pages.NewMockPageSource(ctrl)
	source.EXPECT().PageSize().Return(3000)

	_, err := pages.NewTracker(source, 0, nil)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
}
