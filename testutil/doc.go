/*
Package testutil 提供 Hookflow 测试的共享工具和辅助函数。

# 概述

testutil 包为各适配器包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施：带超时的测试上下文、JSON 请求/断言辅助，以及
记录请求明细的 mock vendor 服务器。

# 使用方法

	ctx := testutil.TestContext(t)

	w := testutil.DoJSON(t, handler, http.MethodPost, "/hooks/zendesk", payload)
	testutil.DecodeJSON(t, w.Body.Bytes(), &resp)

	vendor := testutil.NewVendorServer(t, routes)
	defer vendor.Close()
*/
package testutil
