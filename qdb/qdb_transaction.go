package qdb

import (
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	CMD_PUT = iota
	CMD_DELETE
	// CMD_CMP_VERSION guards the transaction on the key version.
	// Version 0 means the key must not exist.
	CMD_CMP_VERSION
	// CMD_CMP_MOD_REVISION guards the transaction on the key mod revision.
	CMD_CMP_MOD_REVISION
)

type QdbStatement struct {
	CmdType int32
	Key     string
	Value   any
}

func NewQdbStatement(cmdType int32, key string, value any) (*QdbStatement, error) {
	switch cmdType {
	case CMD_PUT, CMD_DELETE, CMD_CMP_VERSION, CMD_CMP_MOD_REVISION:
	default:
		return nil, fmt.Errorf("unknown type of QdbStatement: %d", cmdType)
	}
	return &QdbStatement{CmdType: cmdType, Key: key, Value: value}, nil
}

// packEtcdCommands splits statements into transaction guards and operations.
func packEtcdCommands(statements []QdbStatement) ([]clientv3.Cmp, []clientv3.Op, error) {
	var cmps []clientv3.Cmp
	var ops []clientv3.Op
	for _, stmt := range statements {
		switch stmt.CmdType {
		case CMD_PUT:
			value, ok := stmt.Value.(string)
			if !ok {
				return nil, nil, fmt.Errorf("put value for %s must be a string, got %T", stmt.Key, stmt.Value)
			}
			ops = append(ops, clientv3.OpPut(stmt.Key, value))
		case CMD_DELETE:
			ops = append(ops, clientv3.OpDelete(stmt.Key))
		case CMD_CMP_VERSION:
			cmps = append(cmps, clientv3.Compare(clientv3.Version(stmt.Key), "=", stmt.Value))
		case CMD_CMP_MOD_REVISION:
			cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(stmt.Key), "=", stmt.Value))
		default:
			return nil, nil, fmt.Errorf("not found operation type: %d", stmt.CmdType)
		}
	}
	return cmps, ops, nil
}
