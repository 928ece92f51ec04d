package qdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func TestPackToEtcdCommands(t *testing.T) {
	t.Run("test happy path pack commands", func(t *testing.T) {
		is := assert.New(t)
		statements := []QdbStatement{
			{CmdType: CMD_PUT, Key: "test1", Value: "val1"},
			{CmdType: CMD_DELETE, Key: "test3"},
			{CmdType: CMD_CMP_VERSION, Key: "test2", Value: 1},
			{CmdType: CMD_CMP_MOD_REVISION, Key: "test4", Value: int64(7)},
		}
		expectedCmps := []clientv3.Cmp{
			clientv3.Compare(clientv3.Version("test2"), "=", 1),
			clientv3.Compare(clientv3.ModRevision("test4"), "=", int64(7)),
		}
		expectedOps := []clientv3.Op{
			clientv3.OpPut("test1", "val1"),
			clientv3.OpDelete("test3"),
		}
		actualCmps, actualOps, err := packEtcdCommands(statements)
		is.NoError(err)
		is.Equal(expectedOps, actualOps)
		is.Equal(expectedCmps, actualCmps)
	})
	t.Run("test unknown type", func(t *testing.T) {
		is := assert.New(t)
		statements := []QdbStatement{
			{CmdType: 7, Key: "test1", Value: "val1"},
			{CmdType: CMD_DELETE, Key: "test3"},
		}
		_, _, err := packEtcdCommands(statements)
		is.EqualError(err, "not found operation type: 7")
	})
	t.Run("test put needs string", func(t *testing.T) {
		is := assert.New(t)
		_, _, err := packEtcdCommands([]QdbStatement{{CmdType: CMD_PUT, Key: "k", Value: 1}})
		is.Error(err)
	})
}

func TestNewQdbStatement(t *testing.T) {
	assert := assert.New(t)

	stmt, err := NewQdbStatement(CMD_PUT, "k", "v")
	assert.NoError(err)
	assert.Equal("k", stmt.Key)

	_, err = NewQdbStatement(42, "k", "v")
	assert.Error(err)
}

func TestNewQDB(t *testing.T) {
	assert := assert.New(t)

	db, err := NewQDB("mem", "", "")
	assert.NoError(err)
	assert.IsType(&MemQDB{}, db)

	_, err = NewQDB("zookeeper", "", "")
	assert.Error(err)
}
