package timestream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite"
)

// fakeWriteClient implements WriteClient with overridable behavior per
// call. Unset functions succeed.
type fakeWriteClient struct {
	describeDatabaseFn func(*timestreamwrite.DescribeDatabaseInput) error
	createDatabaseFn   func(*timestreamwrite.CreateDatabaseInput) error
	describeTableFn    func(*timestreamwrite.DescribeTableInput) error
	createTableFn      func(*timestreamwrite.CreateTableInput) error
	writeRecordsFn     func(context.Context, *timestreamwrite.WriteRecordsInput) error

	mu               sync.Mutex
	describeDBCalls  int
	createDBCalls    int
	describeTblCalls int
	createTblCalls   []*timestreamwrite.CreateTableInput
	writeCalls       []*timestreamwrite.WriteRecordsInput

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (f *fakeWriteClient) DescribeDatabase(ctx context.Context, in *timestreamwrite.DescribeDatabaseInput, _ ...func(*timestreamwrite.Options)) (*timestreamwrite.DescribeDatabaseOutput, error) {
	f.mu.Lock()
	f.describeDBCalls++
	f.mu.Unlock()
	if f.describeDatabaseFn != nil {
		if err := f.describeDatabaseFn(in); err != nil {
			return nil, err
		}
	}
	return &timestreamwrite.DescribeDatabaseOutput{}, nil
}

func (f *fakeWriteClient) CreateDatabase(ctx context.Context, in *timestreamwrite.CreateDatabaseInput, _ ...func(*timestreamwrite.Options)) (*timestreamwrite.CreateDatabaseOutput, error) {
	f.mu.Lock()
	f.createDBCalls++
	f.mu.Unlock()
	if f.createDatabaseFn != nil {
		if err := f.createDatabaseFn(in); err != nil {
			return nil, err
		}
	}
	return &timestreamwrite.CreateDatabaseOutput{}, nil
}

func (f *fakeWriteClient) DescribeTable(ctx context.Context, in *timestreamwrite.DescribeTableInput, _ ...func(*timestreamwrite.Options)) (*timestreamwrite.DescribeTableOutput, error) {
	f.mu.Lock()
	f.describeTblCalls++
	f.mu.Unlock()
	if f.describeTableFn != nil {
		if err := f.describeTableFn(in); err != nil {
			return nil, err
		}
	}
	return &timestreamwrite.DescribeTableOutput{}, nil
}

func (f *fakeWriteClient) CreateTable(ctx context.Context, in *timestreamwrite.CreateTableInput, _ ...func(*timestreamwrite.Options)) (*timestreamwrite.CreateTableOutput, error) {
	f.mu.Lock()
	f.createTblCalls = append(f.createTblCalls, in)
	f.mu.Unlock()
	if f.createTableFn != nil {
		if err := f.createTableFn(in); err != nil {
			return nil, err
		}
	}
	return &timestreamwrite.CreateTableOutput{}, nil
}

func (f *fakeWriteClient) WriteRecords(ctx context.Context, in *timestreamwrite.WriteRecordsInput, _ ...func(*timestreamwrite.Options)) (*timestreamwrite.WriteRecordsOutput, error) {
	current := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if current <= max || f.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	f.writeCalls = append(f.writeCalls, in)
	f.mu.Unlock()

	if f.writeRecordsFn != nil {
		if err := f.writeRecordsFn(ctx, in); err != nil {
			return nil, err
		}
	}
	return &timestreamwrite.WriteRecordsOutput{}, nil
}

func (f *fakeWriteClient) writeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writeCalls)
}
