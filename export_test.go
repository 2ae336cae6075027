// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

// TaskStarting is the task a module reports between choosing a run task
// and setting run enable.
const TaskStarting = taskStarting

// SetRunTask overwrites the module's run task.
func (m *Module) SetRunTask(t RunTask) { m.runTask.StoreRelease(uint64(t)) }

// CheckRun runs the worker's run end detection once.
func (m *Module) CheckRun() { m.worker.checkRun() }
