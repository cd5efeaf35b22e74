package mir

// SampleModule 构造一个演示模块，供命令行演示和测试使用
//
//	add(a, b i32) i32       = a + b
//	max(a, b i32) i32       三个基本块的 if/else
//	mul(a, b i64) i64       = a * b
//	sum_to(n i64) i64       带 phi 的循环：0 + 1 + ... + (n-1)
//	fib(n i64) i64          递归调用
//	classify(x i32) i32     switch
//	main() i32              调用 add 和 sum_to
func SampleModule() *Module {
	b := NewModuleBuilder("samples")

	add := b.Func("add", []Type{TypeI32, TypeI32}, TypeI32)
	add.NewBlock()
	add.Ret(add.Binary(OpAdd, add.Param(0), add.Param(1)))

	mx := b.Func("max", []Type{TypeI32, TypeI32}, TypeI32)
	entry := mx.NewBlock()
	then := mx.NewBlock()
	els := mx.NewBlock()
	mx.SetBlock(entry)
	mx.CondBr(mx.Compare(OpGe, mx.Param(0), mx.Param(1)), then, els)
	mx.SetBlock(then)
	mx.Ret(mx.Param(0))
	mx.SetBlock(els)
	mx.Ret(mx.Param(1))

	mul := b.Func("mul", []Type{TypeI64, TypeI64}, TypeI64)
	mul.NewBlock()
	mul.Ret(mul.Binary(OpMul, mul.Param(0), mul.Param(1)))

	sum := b.Func("sum_to", []Type{TypeI64}, TypeI64)
	sEntry := sum.NewBlock()
	sLoop := sum.NewBlock()
	sBody := sum.NewBlock()
	sExit := sum.NewBlock()
	sum.SetBlock(sEntry)
	zero := sum.Const(I64(0))
	one := sum.Const(I64(1))
	sum.Br(sLoop)
	sum.SetBlock(sLoop)
	i := sum.Phi(TypeI64)
	acc := sum.Phi(TypeI64)
	sum.CondBr(sum.Compare(OpLt, i, sum.Param(0)), sBody, sExit)
	sum.SetBlock(sBody)
	nextAcc := sum.Binary(OpAdd, acc, i)
	nextI := sum.Binary(OpAdd, i, one)
	sum.Br(sLoop)
	sum.SetBlock(sExit)
	sum.Ret(acc)
	sum.AddIncoming(i, sEntry, zero)
	sum.AddIncoming(i, sBody, nextI)
	sum.AddIncoming(acc, sEntry, zero)
	sum.AddIncoming(acc, sBody, nextAcc)

	fib := b.Func("fib", []Type{TypeI64}, TypeI64)
	fEntry := fib.NewBlock()
	fBase := fib.NewBlock()
	fRec := fib.NewBlock()
	fib.SetBlock(fEntry)
	two := fib.Const(I64(2))
	fib.CondBr(fib.Compare(OpLt, fib.Param(0), two), fBase, fRec)
	fib.SetBlock(fBase)
	fib.Ret(fib.Param(0))
	fib.SetBlock(fRec)
	fOne := fib.Const(I64(1))
	n1 := fib.Binary(OpSub, fib.Param(0), fOne)
	n2 := fib.Binary(OpSub, fib.Param(0), two)
	r1 := fib.Call(fib.ID(), TypeI64, n1)
	r2 := fib.Call(fib.ID(), TypeI64, n2)
	fib.Ret(fib.Binary(OpAdd, r1, r2))

	cls := b.Func("classify", []Type{TypeI32}, TypeI32)
	cEntry := cls.NewBlock()
	cOne := cls.NewBlock()
	cTwo := cls.NewBlock()
	cDef := cls.NewBlock()
	cls.SetBlock(cEntry)
	cls.Switch(cls.Param(0), cDef, SwitchCase{Value: 1, Target: cOne}, SwitchCase{Value: 2, Target: cTwo})
	cls.SetBlock(cOne)
	cls.Ret(cls.Const(I32(10)))
	cls.SetBlock(cTwo)
	cls.Ret(cls.Const(I32(20)))
	cls.SetBlock(cDef)
	cls.Ret(cls.Const(I32(-1)))

	mainFn := b.Func("main", nil, TypeI32)
	mainFn.NewBlock()
	x := mainFn.Call(add.ID(), TypeI32, mainFn.Const(I32(40)), mainFn.Const(I32(2)))
	s := mainFn.Call(sum.ID(), TypeI64, mainFn.Const(I64(10)))
	sNarrow := mainFn.Cast(TypeI32, s)
	mainFn.Ret(mainFn.Binary(OpAdd, x, sNarrow))

	return b.Build()
}
