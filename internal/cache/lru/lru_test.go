package lru_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlj-hub/pintosim/internal/cache/lru"
)

const maxSize = 50

type testData struct {
	Value    int64
	DataSize uint64
}

func (td testData) Size() uint64 { return td.DataSize }

func insertAndAssert(t *testing.T, c *lru.Cache, key string, val lru.ValueType, evicted []int64, wantErr string) {
	t.Helper()
	ret, err := c.Insert(key, val)
	if wantErr == "" {
		require.NoError(t, err)
	} else {
		require.ErrorContains(t, err, wantErr)
	}
	require.Len(t, ret, len(evicted))
	for i, v := range ret {
		assert.Equal(t, evicted[i], v.(testData).Value)
	}
}

func TestLookUpInEmptyCache(t *testing.T) {
	c := lru.NewCache(maxSize)
	assert.Nil(t, c.LookUp(""))
	assert.Nil(t, c.LookUp("taco"))
}

func TestInsertNilValue(t *testing.T) {
	c := lru.NewCache(maxSize)
	insertAndAssert(t, c, "taco", nil, []int64{}, lru.InvalidEntryErrorMsg)
}

func TestFillUpToCapacity(t *testing.T) {
	c := lru.NewCache(maxSize)
	insertAndAssert(t, c, "burrito", testData{Value: 23, DataSize: 4}, []int64{}, "")
	insertAndAssert(t, c, "taco", testData{Value: 26, DataSize: 20}, []int64{}, "")
	insertAndAssert(t, c, "enchilada", testData{Value: 28, DataSize: 26}, []int64{}, "")

	assert.Equal(t, int64(23), c.LookUp("burrito").(testData).Value)
	assert.Equal(t, int64(26), c.LookUp("taco").(testData).Value)
	assert.Equal(t, int64(28), c.LookUp("enchilada").(testData).Value)
}

func TestExpiresLeastRecentlyUsed(t *testing.T) {
	c := lru.NewCache(maxSize)
	insertAndAssert(t, c, "burrito", testData{Value: 23, DataSize: 4}, []int64{}, "")
	insertAndAssert(t, c, "taco", testData{Value: 26, DataSize: 20}, []int64{}, "")
	insertAndAssert(t, c, "enchilada", testData{Value: 28, DataSize: 26}, []int64{}, "")

	// Touch burrito so taco becomes the least recently used entry.
	assert.Equal(t, int64(23), c.LookUp("burrito").(testData).Value)

	insertAndAssert(t, c, "queso", testData{Value: 34, DataSize: 5}, []int64{26}, "")

	assert.Nil(t, c.LookUp("taco"))
	assert.Equal(t, int64(23), c.LookUp("burrito").(testData).Value)
	assert.Equal(t, int64(28), c.LookUp("enchilada").(testData).Value)
	assert.Equal(t, int64(34), c.LookUp("queso").(testData).Value)
}

func TestOverwriteTriggersEviction(t *testing.T) {
	c := lru.NewCache(maxSize)
	insertAndAssert(t, c, "burrito", testData{Value: 23, DataSize: 4}, []int64{}, "")
	insertAndAssert(t, c, "taco", testData{Value: 26, DataSize: 20}, []int64{}, "")
	insertAndAssert(t, c, "enchilada", testData{Value: 28, DataSize: 20}, []int64{}, "")
	insertAndAssert(t, c, "burrito", testData{Value: 33, DataSize: 6}, []int64{}, "")

	insertAndAssert(t, c, "burrito", testData{Value: 33, DataSize: 12}, []int64{26}, "")

	assert.Nil(t, c.LookUp("taco"))
	assert.Equal(t, int64(33), c.LookUp("burrito").(testData).Value)
	assert.Equal(t, int64(28), c.LookUp("enchilada").(testData).Value)
}

func TestMultipleEviction(t *testing.T) {
	c := lru.NewCache(maxSize)
	insertAndAssert(t, c, "burrito", testData{Value: 23, DataSize: 4}, []int64{}, "")
	insertAndAssert(t, c, "taco", testData{Value: 26, DataSize: 20}, []int64{}, "")
	insertAndAssert(t, c, "enchilada", testData{Value: 28, DataSize: 20}, []int64{}, "")

	insertAndAssert(t, c, "large_data", testData{Value: 33, DataSize: 45}, []int64{23, 26, 28}, "")

	assert.Nil(t, c.LookUp("taco"))
	assert.Nil(t, c.LookUp("burrito"))
	assert.Nil(t, c.LookUp("enchilada"))
	assert.Equal(t, int64(33), c.LookUp("large_data").(testData).Value)
}

func TestEntryLargerThanCapacityIsRejected(t *testing.T) {
	c := lru.NewCache(maxSize)
	insertAndAssert(t, c, "burrito", testData{Value: 23, DataSize: 4}, []int64{}, "")
	insertAndAssert(t, c, "taco", testData{Value: 26, DataSize: maxSize + 1}, []int64{}, lru.InvalidEntrySizeErrorMsg)
	assert.Equal(t, int64(23), c.LookUp("burrito").(testData).Value)
}

func TestErase(t *testing.T) {
	c := lru.NewCache(maxSize)
	insertAndAssert(t, c, "burrito", testData{Value: 23, DataSize: 4}, []int64{}, "")

	deleted := c.Erase("burrito")
	assert.Equal(t, int64(23), deleted.(testData).Value)
	assert.Nil(t, c.LookUp("burrito"))

	assert.Nil(t, c.Erase("taco"))
}

func TestUpdateWithoutChangingOrder(t *testing.T) {
	c := lru.NewCache(maxSize)
	insertAndAssert(t, c, "burrito", testData{Value: 23, DataSize: 4}, []int64{}, "")

	require.NoError(t, c.UpdateWithoutChangingOrder("burrito", testData{Value: 2, DataSize: 4}))
	assert.Equal(t, int64(2), c.LookUp("burrito").(testData).Value)

	err := c.UpdateWithoutChangingOrder("burrito", testData{Value: 2, DataSize: 3})
	require.ErrorContains(t, err, lru.InvalidUpdateEntrySizeErrorMsg)

	err = c.UpdateWithoutChangingOrder("missing", testData{Value: 1, DataSize: 1})
	require.ErrorContains(t, err, lru.EntryNotExistErrMsg)
}

func TestUpdateDoesNotChangeOrder(t *testing.T) {
	c := lru.NewCache(maxSize)
	insertAndAssert(t, c, "burrito1", testData{Value: 23, DataSize: 10}, []int64{}, "")
	insertAndAssert(t, c, "burrito2", testData{Value: 2, DataSize: 40}, []int64{}, "")

	require.NoError(t, c.UpdateWithoutChangingOrder("burrito1", testData{Value: 7, DataSize: 10}))

	// burrito1 remains the least recently used entry since the update did
	// not promote it, so inserting a third entry evicts it.
	insertAndAssert(t, c, "burrito3", testData{Value: 3, DataSize: 5}, []int64{7}, "")
}

func TestLookUpWithoutChangingOrder(t *testing.T) {
	c := lru.NewCache(maxSize)
	assert.Nil(t, c.LookUpWithoutChangingOrder("burrito"))

	insertAndAssert(t, c, "burrito1", testData{Value: 23, DataSize: 10}, []int64{}, "")
	insertAndAssert(t, c, "burrito2", testData{Value: 2, DataSize: 40}, []int64{}, "")

	assert.Equal(t, int64(23), c.LookUpWithoutChangingOrder("burrito1").(testData).Value)

	// Since the lookup above did not change recency, burrito1 is still the
	// least recently used entry and gets evicted.
	insertAndAssert(t, c, "burrito3", testData{Value: 3, DataSize: 5}, []int64{23}, "")
}

func TestConcurrentAccessDoesNotRace(t *testing.T) {
	const operationCount = 100
	c := lru.NewCache(maxSize)

	var wg sync.WaitGroup
	wg.Add(5)

	go func() {
		defer wg.Done()
		for i := 0; i < operationCount; i++ {
			_, err := c.Insert("key", testData{Value: int64(i), DataSize: uint64(rand.Intn(maxSize))})
			require.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < operationCount; i++ {
			c.Erase("key")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < operationCount; i++ {
			c.LookUp("key")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < operationCount; i++ {
			c.LookUpWithoutChangingOrder("key")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < operationCount; i++ {
			_ = c.UpdateWithoutChangingOrder("key", testData{Value: int64(i), DataSize: uint64(rand.Intn(maxSize))})
		}
	}()

	wg.Wait()
}
