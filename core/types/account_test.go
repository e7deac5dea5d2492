package types

import "testing"

func TestIsValidAccountID(t *testing.T) {
	ok := []AccountID{
		"aa", "a-a", "a-aa", "100", "0o", "com", "near", "bowen",
		"b-o_w_e-n", "b.owen", "bro.wen", "a.ha", "a.b-a.ra", "system",
		"some-complex-address@gmail.com", "sub.buy_d1gitz@atata@b0-rg.c_0_m",
		"over.9000", "google.com", "illia.cheapaccounts.near", "0o0ooo00oo00o",
		"alex-skidanov", "10-4.8-2", "no_lols",
		"0123456789012345678901234567890123456789012345678901234567890123",
		// Valid, but can't be created.
		"near.a",
	}
	for _, id := range ok {
		if !IsValidAccountID(id) {
			t.Errorf("valid account id %q marked invalid", id)
		}
	}

	bad := []AccountID{
		"a", "A", "Abc", "-near", "near-", "-near-", "near.", ".near",
		"near@", "@near", "неар", "@@@@@", "0__0", "0_-_0", "..", "a..near",
		"nEar", "_bowen", "hello world",
		"abcdefghijklmnopqrstuvwxyz.abcdefghijklmnopqrstuvwxyz.abcdefghijklmnopqrstuvwxyz",
		"01234567890123456789012345678901234567890123456789012345678901234",
	}
	for _, id := range bad {
		if IsValidAccountID(id) {
			t.Errorf("invalid account id %q marked valid", id)
		}
	}
}

func TestIsValidTopLevelAccountID(t *testing.T) {
	ok := []AccountID{
		"aa", "a-a", "100", "0o", "com", "near", "b-o_w_e-n", "no_lols",
		"0123456789012345678901234567890123456789012345678901234567890123",
	}
	for _, id := range ok {
		if !IsValidTopLevelAccountID(id) {
			t.Errorf("valid top level account id %q marked invalid", id)
		}
	}

	bad := []AccountID{
		"near.a", "b.owen", "over.9000", "google.com", "illia.cheapaccounts.near",
		"10-4.8-2", "a", "A", "-near", "near-", ".near", "@near", "hello world",
		// Valid regex and length, but reserved.
		"system",
	}
	for _, id := range bad {
		if IsValidTopLevelAccountID(id) {
			t.Errorf("invalid top level account id %q marked valid", id)
		}
	}
}

func TestIsValidSubAccountID(t *testing.T) {
	ok := [][2]AccountID{
		{"test", "a.test"},
		{"test", "a@test"},
		{"test-me", "abc.test-me"},
		{"test_me", "abc@test_me"},
		{"gmail.com", "abc@gmail.com"},
		{"gmail@com", "abc.gmail@com"},
		{"gmail.com", "abc-lol@gmail.com"},
		{"gmail@com", "bro-abc_lol.gmail@com"},
		{"g0", "0g.g0"},
		{"1g", "1g.1g"},
		{"5-3", "4_2.5-3"},
	}
	for _, pair := range ok {
		if !IsValidSubAccountID(pair[0], pair[1]) {
			t.Errorf("%q should be able to create %q", pair[0], pair[1])
		}
	}

	bad := [][2]AccountID{
		{"test", ".test"},
		{"test", "test"},
		{"test", "est"},
		{"test", ""},
		{"test", "st"},
		{"test5", "ббб"},
		{"test", "a-test"},
		{"test", "etest"},
		{"test", "a.etest"},
		{"test", "retest"},
		{"test-me", "abc-.test-me"},
		{"test-me", "Abc.test-me"},
		{"test-me", "-abc.test-me"},
		{"test-me", "a--c.test-me"},
		{"test-me", "_abc.test-me"},
		{"test-me", "abc_.test-me"},
		{"test-me", "..test-me"},
		{"test-me", "a..test-me"},
		{"gmail.com", "a.abc@gmail.com"},
		{"gmail.com", "abc@gmail@com"},
		{"aa", "ъ@aa"},
		{"aa", "ъ.aa"},
	}
	for _, pair := range bad {
		if IsValidSubAccountID(pair[0], pair[1]) {
			t.Errorf("%q should not be able to create %q", pair[0], pair[1])
		}
	}
}
