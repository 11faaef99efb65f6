/*
包 memory 提供按作用域隔离的智能体记忆。

# 概述

Manager 统一管理三种后端，每条记录只属于一个 types.MemoryScope（用户 + 智能体），
查询从不跨作用域：

  - [WorkingStore]：进程内有界 FIFO 会话窗口，单作用域单写者
  - [PersistentStore]：基于 gorm 的 memory_records 表（sqlite / postgres / mysql），软删除
  - [SemanticStore]：基于 chromem-go 的向量集合，每个作用域一个集合

# 生命周期

	UNINITIALIZED --Open--> READY --Close--> CLOSED

READY 之外的任何操作都返回 STORAGE_ERROR。Close 幂等。

# 典型用法

	mgr := memory.NewManager(memory.DefaultConfig(),
		memory.WithPersistent(memory.NewPersistentStore(db, logger)),
		memory.WithSemantic(sem),
		memory.WithLogger(logger))
	if err := mgr.Open(ctx); err != nil { ... }
	defer mgr.Close()

	scope := types.NewMemoryScope("alice", "support")
	_ = mgr.AppendTurns(ctx, scope, memory.NewTurn(types.RoleUser, "hi"))
	recent, _ := mgr.Recent(ctx, scope, 10)
*/
package memory
