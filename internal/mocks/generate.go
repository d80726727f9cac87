package mocks

//go:generate mockery --name RawDataStore --srcpkg github.com/aevon-lab/sliceflow/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
