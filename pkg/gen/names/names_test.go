package names

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPascalCase(t *testing.T) {
	assert.Equal(t, "AddImm12", PascalCase("add_imm12"))
	assert.Equal(t, "AddW", PascalCase("add.w"))
	assert.Equal(t, "Lui", PascalCase("lui"))
	assert.Equal(t, "None", PascalCase("none"))
	assert.Equal(t, "_2Addr", PascalCase("2addr"))
}

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "add_imm12", SnakeCase("AddImm12"))
	assert.Equal(t, "risc_v32g", SnakeCase("RiscV32G"))
	assert.Equal(t, "add_w", SnakeCase("add.w"))
	assert.Equal(t, "already_snake", SnakeCase("already_snake"))
}

func TestHeaderGuard(t *testing.T) {
	assert.Equal(t, "RISCV32_DECODER_H_", HeaderGuard("riscv32_decoder.h"))
	assert.Equal(t, "GEN_RISCV32_ENUMS_H_", HeaderGuard("gen/riscv32_enums.h"))
}
